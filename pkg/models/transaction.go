package models

import (
	"time"
)

// TransactionType is the kind of money movement a transaction performs.
type TransactionType string

const (
	TransactionTypeDebit          TransactionType = "DEBIT"
	TransactionTypeCredit         TransactionType = "CREDIT"
	TransactionTypeTransfer       TransactionType = "TRANSFER"
	TransactionTypeWalletTransfer TransactionType = "WALLET_TRANSFER"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending         TransactionStatus = "PENDING"
	TransactionStatusProcessing      TransactionStatus = "PROCESSING"
	TransactionStatusCompleted       TransactionStatus = "COMPLETED"
	TransactionStatusFailed          TransactionStatus = "FAILED"
	TransactionStatusFailedPermanent TransactionStatus = "FAILED_PERMANENT"
	TransactionStatusReversed        TransactionStatus = "REVERSED"
)

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted ||
		s == TransactionStatusFailedPermanent ||
		s == TransactionStatusReversed
}

const (
	// DefaultMaxRetries bounds automatic resubmission attempts.
	DefaultMaxRetries = 5

	// DefaultInitialRetryDelay seeds the exponential backoff schedule.
	DefaultInitialRetryDelay = 30 * time.Second

	// MaxRetryDelay caps the backoff schedule.
	MaxRetryDelay = 30 * time.Minute
)

// Transaction is a durable money-movement record submitted to the core
// ledger. The reference is a globally unique idempotency key; all retry paths
// serialize on it. Status changes never mutate history: each transition
// appends a TransactionStatusChange row.
type Transaction struct {
	ID                string            `json:"id"`
	Reference         string            `json:"reference"`
	Type              TransactionType   `json:"type"`
	Source            string            `json:"source,omitempty"`
	Status            TransactionStatus `json:"status"`
	Amount            float64           `json:"amount"`
	Currency          string            `json:"currency"`
	FromRef           string            `json:"from_ref,omitempty"`
	ToRef             string            `json:"to_ref,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	RawResponse       string            `json:"raw_response,omitempty"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	NextRetryAt       *time.Time        `json:"next_retry_at,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	IsReversal        bool              `json:"is_reversal"`
	ReversalOf        string            `json:"reversal_of,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TransactionStatusChange is one append-only history row.
type TransactionStatusChange struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	FromStatus    TransactionStatus `json:"from_status,omitempty"`
	ToStatus      TransactionStatus `json:"to_status"`
	Reason        string            `json:"reason,omitempty"`
	RetryNumber   int               `json:"retry_number"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Retryable reports whether the transaction may still be resubmitted.
func (t *Transaction) Retryable() bool {
	return t.Status == TransactionStatusFailed && t.RetryCount < t.MaxRetries
}

// NextBackoff computes the delay before the next submission attempt:
// initialDelay * 2^retryCount, capped at MaxRetryDelay.
func NextBackoff(initialDelay time.Duration, retryCount int) time.Duration {
	if initialDelay <= 0 {
		initialDelay = DefaultInitialRetryDelay
	}

	delay := initialDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}

	return delay
}

// RetryStats are aggregate counters over the transaction table, computed on
// demand for observability.
type RetryStats struct {
	TotalRetryable int        `json:"total_retryable"`
	TotalFailed    int        `json:"total_failed"`
	TotalPending   int        `json:"total_pending"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}
