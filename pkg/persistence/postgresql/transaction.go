package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
)

// TransactionRepository handles transaction persistence. The PROCESSING claim
// is a conditional UPDATE so that concurrent submitters race on exactly one
// row transition.
type TransactionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TransactionRepository) Insert(ctx context.Context, transaction *models.Transaction) error {
	now := time.Now().UTC()
	transaction.CreatedAt = now
	transaction.UpdatedAt = now

	query := `
		INSERT INTO transactions (id, reference, txn_type, source, status, amount,
			currency, from_ref, to_ref, external_reference, raw_response, retry_count,
			max_retries, next_retry_at, error_message, error_code, is_reversal,
			reversal_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.db.ExecContext(ctx, query,
		transaction.ID,
		transaction.Reference,
		transaction.Type,
		transaction.Source,
		transaction.Status,
		transaction.Amount,
		transaction.Currency,
		transaction.FromRef,
		transaction.ToRef,
		transaction.ExternalReference,
		transaction.RawResponse,
		transaction.RetryCount,
		transaction.MaxRetries,
		transaction.NextRetryAt,
		transaction.ErrorMessage,
		transaction.ErrorCode,
		transaction.IsReversal,
		nullableID(transaction.ReversalOf),
		transaction.CreatedAt,
		transaction.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewStoreError("Insert", "transaction", transaction.ID, persistence.ErrDuplicateReference)
		}

		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, transaction *models.Transaction) error {
	transaction.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE transactions SET
			status = $2,
			external_reference = $3,
			raw_response = $4,
			retry_count = $5,
			next_retry_at = $6,
			error_message = $7,
			error_code = $8,
			updated_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		transaction.ID,
		transaction.Status,
		transaction.ExternalReference,
		transaction.RawResponse,
		transaction.RetryCount,
		transaction.NextRetryAt,
		transaction.ErrorMessage,
		transaction.ErrorCode,
		transaction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Update", "transaction", transaction.ID, persistence.ErrTransactionNotFound)
	}

	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, selectTransaction+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "transaction", id, persistence.ErrTransactionNotFound)
		}

		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	return transaction, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, selectTransaction+" WHERE reference = $1", reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByReference", "transaction", reference, persistence.ErrTransactionNotFound)
		}

		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	return transaction, nil
}

func (r *TransactionRepository) List(ctx context.Context, opts persistence.ListTransactionsOptions) (*persistence.TransactionPage, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	conditions := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if opts.Type != nil {
		args = append(args, *opts.Type)
		conditions = append(conditions, fmt.Sprintf("txn_type = $%d", len(args)))
	}

	if opts.Reference != "" {
		args = append(args, opts.Reference)
		conditions = append(conditions, fmt.Sprintf("reference = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf("%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectTransaction, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	transactions := make([]*models.Transaction, 0)

	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		transactions = append(transactions, transaction)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return &persistence.TransactionPage{
		Transactions: transactions,
		TotalCount:   total,
		HasNextPage:  int64(opts.Offset+len(transactions)) < total,
	}, nil
}

func (r *TransactionRepository) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'FAILED')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *TransactionRepository) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectTransaction + `
		WHERE status = 'FAILED'
		  AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due transactions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectTransactions(rows)
}

func (r *TransactionRepository) StuckProcessing(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	query := selectTransaction + `
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck transactions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectTransactions(rows)
}

func (r *TransactionRepository) AppendHistory(ctx context.Context, change *models.TransactionStatusChange) error {
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transaction_status_history (id, transaction_id, from_status,
			to_status, reason, retry_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var fromStatus sql.NullString
	if change.FromStatus != "" {
		fromStatus = sql.NullString{String: string(change.FromStatus), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		change.ID,
		change.TransactionID,
		fromStatus,
		change.ToStatus,
		change.Reason,
		change.RetryNumber,
		change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	return nil
}

func (r *TransactionRepository) History(ctx context.Context, transactionID string) ([]*models.TransactionStatusChange, error) {
	query := `
		SELECT id, transaction_id, from_status, to_status, reason, retry_number, created_at
		FROM transaction_status_history
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	changes := make([]*models.TransactionStatusChange, 0)

	for rows.Next() {
		var (
			change     models.TransactionStatusChange
			fromStatus sql.NullString
		)

		err := rows.Scan(
			&change.ID,
			&change.TransactionID,
			&fromStatus,
			&change.ToStatus,
			&change.Reason,
			&change.RetryNumber,
			&change.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}

		if fromStatus.Valid {
			change.FromStatus = models.TransactionStatus(fromStatus.String)
		}

		changes = append(changes, &change)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}

	return changes, nil
}

func (r *TransactionRepository) RetryStats(ctx context.Context) (*models.RetryStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'FAILED' AND retry_count < max_retries),
			COUNT(*) FILTER (WHERE status IN ('FAILED', 'FAILED_PERMANENT')),
			COUNT(*) FILTER (WHERE status IN ('PENDING', 'PROCESSING')),
			MIN(next_retry_at) FILTER (WHERE status = 'FAILED' AND retry_count < max_retries)
		FROM transactions
	`

	stats := &models.RetryStats{}

	var nextRetry sql.NullTime

	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRetryable,
		&stats.TotalFailed,
		&stats.TotalPending,
		&nextRetry,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute retry stats: %w", err)
	}

	if nextRetry.Valid {
		stats.NextRetryAt = &nextRetry.Time
	}

	return stats, nil
}

const selectTransaction = `
	SELECT id, reference, txn_type, source, status, amount, currency, from_ref,
		to_ref, external_reference, raw_response, retry_count, max_retries,
		next_retry_at, error_message, error_code, is_reversal, reversal_of,
		created_at, updated_at
	FROM transactions
`

func scanTransaction(scanner interface{ Scan(dest ...any) error }) (*models.Transaction, error) {
	var (
		transaction models.Transaction
		nextRetry   sql.NullTime
		reversalOf  sql.NullString
	)

	err := scanner.Scan(
		&transaction.ID,
		&transaction.Reference,
		&transaction.Type,
		&transaction.Source,
		&transaction.Status,
		&transaction.Amount,
		&transaction.Currency,
		&transaction.FromRef,
		&transaction.ToRef,
		&transaction.ExternalReference,
		&transaction.RawResponse,
		&transaction.RetryCount,
		&transaction.MaxRetries,
		&nextRetry,
		&transaction.ErrorMessage,
		&transaction.ErrorCode,
		&transaction.IsReversal,
		&reversalOf,
		&transaction.CreatedAt,
		&transaction.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextRetry.Valid {
		transaction.NextRetryAt = &nextRetry.Time
	}

	if reversalOf.Valid {
		transaction.ReversalOf = reversalOf.String
	}

	return &transaction, nil
}

func collectTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	transactions := make([]*models.Transaction, 0)

	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		transactions = append(transactions, transaction)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func nullableID(id string) sql.NullString {
	if id == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: id, Valid: true}
}
