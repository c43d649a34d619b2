// Package ledger provides adapters for the external ledger system and
// downstream service endpoints called during workflow execution.
package ledger

import (
	"context"
	"errors"

	"github.com/mufaro/bankflow/pkg/models"
)

var (
	// ErrAdapterTimeout is returned when an external call exceeds its deadline.
	ErrAdapterTimeout = errors.New("adapter call timed out")
	// ErrAdapterUnavailable is returned when the external system cannot be reached.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
)

// SubmitResult is the ledger's answer to a transaction submission. A
// rejected submission carries Retryable to tell the state machine whether
// another attempt may succeed.
type SubmitResult struct {
	Accepted          bool
	Retryable         bool
	ExternalReference string
	RawResponse       map[string]any
	ErrorMessage      string
}

// Adapter posts transactions to the external ledger. Submissions are
// idempotent by reference: resubmitting a reference the ledger already
// applied returns the original outcome instead of double-applying.
type Adapter interface {
	SubmitTransaction(ctx context.Context, transaction *models.Transaction) (*SubmitResult, error)
}

// ServiceResult is the response from a downstream service endpoint invoked
// by API_CALL, VALIDATION or OTP steps.
type ServiceResult struct {
	StatusCode int
	Body       map[string]any
}

// ServiceAdapter invokes downstream service endpoints on behalf of
// server-bound workflow steps.
type ServiceAdapter interface {
	Invoke(ctx context.Context, method, endpoint string, params map[string]any) (*ServiceResult, error)
}
