package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
)

// TransactionRepository stores transactions and their status history as JSON
// files. The mutex stands in for the row-level atomicity a database gives the
// conditional PROCESSING claim.
type TransactionRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *TransactionRepository) dir() string {
	return filepath.Join(r.root, "transactions")
}

func (r *TransactionRepository) historyDir() string {
	return filepath.Join(r.root, "transaction_history")
}

func (r *TransactionRepository) Insert(ctx context.Context, transaction *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.findByReference(ctx, transaction.Reference); err != nil {
		return err
	} else if existing != nil {
		return persistence.NewStoreError("Insert", "transaction", transaction.ID, persistence.ErrDuplicateReference)
	}

	now := time.Now().UTC()
	transaction.CreatedAt = now
	transaction.UpdatedAt = now

	if err := writeJSON(r.dir(), transaction.ID, transaction); err != nil {
		return persistence.NewStoreError("Insert", "transaction", transaction.ID, err)
	}

	return nil
}

func (r *TransactionRepository) Update(_ context.Context, transaction *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	transaction.UpdatedAt = time.Now().UTC()

	if err := writeJSON(r.dir(), transaction.ID, transaction); err != nil {
		return persistence.NewStoreError("Update", "transaction", transaction.ID, err)
	}

	return nil
}

func (r *TransactionRepository) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	var transaction models.Transaction

	found, err := readJSON(r.dir(), id, &transaction)
	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "transaction", id, err)
	}

	if !found {
		return nil, persistence.NewStoreError("GetByID", "transaction", id, persistence.ErrTransactionNotFound)
	}

	return &transaction, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	transaction, err := r.findByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if transaction == nil {
		return nil, persistence.NewStoreError("GetByReference", "transaction", reference, persistence.ErrTransactionNotFound)
	}

	return transaction, nil
}

func (r *TransactionRepository) findByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	transactions, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, transaction := range transactions {
		if transaction.Reference == reference {
			return transaction, nil
		}
	}

	return nil, nil
}

func (r *TransactionRepository) List(ctx context.Context, opts persistence.ListTransactionsOptions) (*persistence.TransactionPage, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Transaction, 0, len(all))

	for _, transaction := range all {
		if opts.Status != nil && transaction.Status != *opts.Status {
			continue
		}

		if opts.Type != nil && transaction.Type != *opts.Type {
			continue
		}

		if opts.Reference != "" && transaction.Reference != opts.Reference {
			continue
		}

		filtered = append(filtered, transaction)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := int64(len(filtered))

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &persistence.TransactionPage{
		Transactions: filtered[start:end],
		TotalCount:   total,
		HasNextPage:  end < len(filtered),
	}, nil
}

// ClaimForProcessing transitions PENDING/FAILED -> PROCESSING under the
// store lock; exactly one concurrent claimant succeeds.
func (r *TransactionRepository) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transaction, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if transaction.Status != models.TransactionStatusPending && transaction.Status != models.TransactionStatusFailed {
		return false, nil
	}

	transaction.Status = models.TransactionStatusProcessing
	transaction.UpdatedAt = time.Now().UTC()

	if err := writeJSON(r.dir(), transaction.ID, transaction); err != nil {
		return false, persistence.NewStoreError("ClaimForProcessing", "transaction", id, err)
	}

	return true, nil
}

func (r *TransactionRepository) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Transaction, 0)

	for _, transaction := range all {
		if !transaction.Retryable() {
			continue
		}

		if transaction.NextRetryAt != nil && transaction.NextRetryAt.After(now) {
			continue
		}

		due = append(due, transaction)

		if limit > 0 && len(due) >= limit {
			break
		}
	}

	return due, nil
}

func (r *TransactionRepository) StuckProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	stuck := make([]*models.Transaction, 0)

	for _, transaction := range all {
		if transaction.Status == models.TransactionStatusProcessing && transaction.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, transaction)
		}
	}

	return stuck, nil
}

func (r *TransactionRepository) AppendHistory(_ context.Context, change *models.TransactionStatusChange) error {
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}

	if err := writeJSON(r.historyDir(), change.ID, change); err != nil {
		return persistence.NewStoreError("AppendHistory", "transaction", change.TransactionID, err)
	}

	return nil
}

func (r *TransactionRepository) History(_ context.Context, transactionID string) ([]*models.TransactionStatusChange, error) {
	ids, err := listIDs(r.historyDir())
	if err != nil {
		return nil, persistence.NewStoreError("History", "transaction", transactionID, err)
	}

	changes := make([]*models.TransactionStatusChange, 0)

	for _, id := range ids {
		var change models.TransactionStatusChange

		found, err := readJSON(r.historyDir(), id, &change)
		if err != nil {
			return nil, persistence.NewStoreError("History", "transaction", transactionID, err)
		}

		if found && change.TransactionID == transactionID {
			changes = append(changes, &change)
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].CreatedAt.Equal(changes[j].CreatedAt) {
			return changes[i].ID < changes[j].ID
		}

		return changes[i].CreatedAt.Before(changes[j].CreatedAt)
	})

	return changes, nil
}

func (r *TransactionRepository) RetryStats(ctx context.Context) (*models.RetryStats, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.RetryStats{}

	for _, transaction := range all {
		switch transaction.Status {
		case models.TransactionStatusPending, models.TransactionStatusProcessing:
			stats.TotalPending++
		case models.TransactionStatusFailed:
			stats.TotalFailed++

			if transaction.Retryable() {
				stats.TotalRetryable++

				if transaction.NextRetryAt != nil &&
					(stats.NextRetryAt == nil || transaction.NextRetryAt.Before(*stats.NextRetryAt)) {
					stats.NextRetryAt = transaction.NextRetryAt
				}
			}
		case models.TransactionStatusFailedPermanent:
			stats.TotalFailed++
		}
	}

	return stats, nil
}

func (r *TransactionRepository) loadAll(ctx context.Context) ([]*models.Transaction, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("List", "transaction", "", err)
	}

	transactions := make([]*models.Transaction, 0, len(ids))

	for _, id := range ids {
		transaction, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		transactions = append(transactions, transaction)
	}

	return transactions, nil
}
