// Package persistence provides the storage abstraction for workflows,
// executions and transactions.
package persistence

import (
	"context"
	"time"

	"github.com/mufaro/bankflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TransactionRepository() TransactionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and pages a workflow listing.
type ListWorkflowsOptions struct {
	Limit      int
	Offset     int
	OnlyActive bool
}

// WorkflowPage is one page of a workflow listing.
type WorkflowPage struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowPage, error)
}

type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// ActiveBySession returns the single non-terminal execution bound to a
	// session, or ErrExecutionNotFound.
	ActiveBySession(ctx context.Context, sessionID string) (*models.WorkflowExecution, error)
}

// ListTransactionsOptions filters and pages a transaction listing.
type ListTransactionsOptions struct {
	Limit     int
	Offset    int
	Status    *models.TransactionStatus
	Type      *models.TransactionType
	Reference string
}

// TransactionPage is one page of a transaction listing.
type TransactionPage struct {
	Transactions []*models.Transaction
	TotalCount   int64
	HasNextPage  bool
}

type TransactionRepository interface {
	Insert(ctx context.Context, transaction *models.Transaction) error
	Update(ctx context.Context, transaction *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	List(ctx context.Context, opts ListTransactionsOptions) (*TransactionPage, error)

	// ClaimForProcessing performs the conditional transition
	// PENDING/FAILED -> PROCESSING and reports whether this caller won the
	// claim. Exactly one concurrent claimant succeeds per transaction.
	ClaimForProcessing(ctx context.Context, id string) (bool, error)

	// DueForRetry returns FAILED transactions whose nextRetryAt has passed
	// and whose retry budget is not exhausted.
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error)

	// StuckProcessing returns transactions left PROCESSING since before the
	// cutoff, typically after a crash mid-submission.
	StuckProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error)

	AppendHistory(ctx context.Context, change *models.TransactionStatusChange) error
	History(ctx context.Context, transactionID string) ([]*models.TransactionStatusChange, error)

	RetryStats(ctx context.Context) (*models.RetryStats, error)
}
