package transactions

import (
	"errors"
	"fmt"

	"github.com/mufaro/bankflow/pkg/models"
)

var (
	// ErrTerminalState is returned when an operation would mutate a
	// transaction that already reached COMPLETED, FAILED_PERMANENT or
	// REVERSED.
	ErrTerminalState = errors.New("transaction is in a terminal state")

	// ErrAlreadyProcessing is returned when another submission holds the
	// PROCESSING claim for the transaction.
	ErrAlreadyProcessing = errors.New("transaction is already being processed")

	// ErrNotRetryable is returned when a manual retry targets a
	// transaction that is not in FAILED or has exhausted its retry budget.
	ErrNotRetryable = errors.New("transaction is not retryable")

	// ErrNotReversible is returned when a reversal targets a transaction
	// that is not COMPLETED, is itself a reversal, or was already reversed.
	ErrNotReversible = errors.New("transaction is not reversible")

	// ErrInvalidInput is returned when transaction creation input fails
	// validation.
	ErrInvalidInput = errors.New("invalid transaction input")
)

// StateError reports a rejected state transition with the transaction's
// current status attached.
type StateError struct {
	TransactionID string
	Status        models.TransactionStatus
	Err           error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transaction %s (status %s): %v", e.TransactionID, e.Status, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func NewStateError(transactionID string, status models.TransactionStatus, err error) *StateError {
	return &StateError{
		TransactionID: transactionID,
		Status:        status,
		Err:           err,
	}
}

// IsTerminalState checks whether the error is a terminal state violation.
func IsTerminalState(err error) bool {
	return errors.Is(err, ErrTerminalState)
}

// IsAlreadyProcessing checks whether the error is a lost processing claim.
func IsAlreadyProcessing(err error) bool {
	return errors.Is(err, ErrAlreadyProcessing)
}
