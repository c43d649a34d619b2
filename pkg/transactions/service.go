// Package transactions implements the transaction state machine: creation,
// submission to the ledger, retry with exponential backoff, and reversal.
package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mufaro/bankflow/pkg/eventbus"
	"github.com/mufaro/bankflow/pkg/events"
	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/locks"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/otelhelper"
	"github.com/mufaro/bankflow/pkg/persistence"
)

// CreateInput carries the fields needed to create a transaction.
type CreateInput struct {
	Reference  string                 `json:"reference"  validate:"required"`
	Type       models.TransactionType `json:"type"       validate:"required,oneof=DEBIT CREDIT TRANSFER WALLET_TRANSFER"`
	Amount     float64                `json:"amount"     validate:"required,gt=0"`
	Currency   string                 `json:"currency"   validate:"required,len=3"`
	FromRef    string                 `json:"from_ref,omitempty"`
	ToRef      string                 `json:"to_ref,omitempty"`
	Source     string                 `json:"source,omitempty"`
	MaxRetries int                    `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
}

// Service drives transactions through their lifecycle. All submission paths
// (workflow steps, manual retries, the scheduler) serialize per reference
// through the locker, and the repository's conditional claim guarantees a
// single PROCESSING holder even across processes.
type Service struct {
	repo              persistence.TransactionRepository
	adapter           ledger.Adapter
	locker            locks.Locker
	publisher         eventbus.EventPublisher
	validate          *validator.Validate
	tracer            trace.Tracer
	logger            *slog.Logger
	initialRetryDelay time.Duration
}

func NewService(
	repo persistence.TransactionRepository,
	adapter ledger.Adapter,
	locker locks.Locker,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:              repo,
		adapter:           adapter,
		locker:            locker,
		publisher:         publisher,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		tracer:            otel.Tracer("bankflow-transactions"),
		logger:            logger.With("module", "transaction_service"),
		initialRetryDelay: models.DefaultInitialRetryDelay,
	}
}

// Create records a new PENDING transaction. The reference is an idempotency
// key: creating with a reference that already exists returns the existing
// transaction unchanged.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Transaction, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if (input.Type == models.TransactionTypeTransfer || input.Type == models.TransactionTypeWalletTransfer) &&
		(input.FromRef == "" || input.ToRef == "") {
		return nil, fmt.Errorf("%w: %s requires both from_ref and to_ref", ErrInvalidInput, input.Type)
	}

	existing, err := s.repo.GetByReference(ctx, input.Reference)
	if err == nil {
		s.logger.InfoContext(ctx, "Transaction already exists for reference, returning it",
			"reference", input.Reference,
			"transaction_id", existing.ID,
		)

		return existing, nil
	}

	if !persistence.IsTransactionNotFound(err) {
		return nil, fmt.Errorf("failed to check reference %s: %w", input.Reference, err)
	}

	maxRetries := input.MaxRetries
	if maxRetries == 0 {
		maxRetries = models.DefaultMaxRetries
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction ID: %w", err)
	}

	now := time.Now().UTC()
	transaction := &models.Transaction{
		ID:         id.String(),
		Reference:  input.Reference,
		Type:       input.Type,
		Source:     input.Source,
		Status:     models.TransactionStatusPending,
		Amount:     input.Amount,
		Currency:   strings.ToUpper(input.Currency),
		FromRef:    input.FromRef,
		ToRef:      input.ToRef,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.repo.Insert(ctx, transaction)
	if err != nil {
		if persistence.IsDuplicateReference(err) {
			// Lost a creation race; the other writer's row wins.
			return s.repo.GetByReference(ctx, input.Reference)
		}

		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	err = s.appendHistory(ctx, transaction, "", models.TransactionStatusPending, "transaction created")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, transaction.Reference, events.TransactionCreated{
		BaseEvent:     s.baseEvent(events.TransactionCreatedEvent),
		TransactionID: transaction.ID,
		Reference:     transaction.Reference,
		Amount:        transaction.Amount,
		Currency:      transaction.Currency,
		IsReversal:    transaction.IsReversal,
	})

	s.logger.InfoContext(ctx, "Created transaction",
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
		"type", transaction.Type,
	)

	return transaction, nil
}

// Submit drives one submission attempt: PENDING/FAILED -> PROCESSING ->
// COMPLETED, FAILED with a scheduled retry, or FAILED_PERMANENT. The
// returned transaction reflects the post-attempt state.
func (s *Service) Submit(ctx context.Context, transactionID string) (*models.Transaction, error) {
	transaction, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "transactions.submit",
		attribute.String(otelhelper.TransactionIDKey, transaction.ID),
		attribute.String(otelhelper.ReferenceKey, transaction.Reference),
	)
	defer span.End()

	release, err := s.locker.Acquire(ctx, transaction.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reference %s: %w", transaction.Reference, err)
	}
	defer release()

	// Re-read under the lock; another submission may have finished while
	// we waited.
	transaction, err = s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if transaction.Status.IsTerminal() {
		return transaction, NewStateError(transaction.ID, transaction.Status, ErrTerminalState)
	}

	claimed, err := s.repo.ClaimForProcessing(ctx, transaction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction %s: %w", transaction.ID, err)
	}

	if !claimed {
		return transaction, NewStateError(transaction.ID, transaction.Status, ErrAlreadyProcessing)
	}

	fromStatus := transaction.Status
	transaction.Status = models.TransactionStatusProcessing

	err = s.appendHistory(ctx, transaction, fromStatus, models.TransactionStatusProcessing, "submitting to ledger")
	if err != nil {
		return nil, err
	}

	result, err := s.adapter.SubmitTransaction(ctx, transaction)
	if err != nil {
		otelhelper.SetTransactionError(span, err, transaction.ID, transaction.Reference)

		// Adapter plumbing failure, not a ledger verdict. Treat as retryable.
		result = &ledger.SubmitResult{
			Retryable:    true,
			ErrorMessage: err.Error(),
		}
	}

	return s.applyResult(ctx, transaction, result)
}

func (s *Service) applyResult(
	ctx context.Context,
	transaction *models.Transaction,
	result *ledger.SubmitResult,
) (*models.Transaction, error) {
	if result.RawResponse != nil {
		transaction.RawResponse = rawResponseJSON(result.RawResponse)
	}

	if result.Accepted {
		return s.complete(ctx, transaction, result)
	}

	transaction.ErrorMessage = result.ErrorMessage

	if result.Retryable {
		transaction.RetryCount++

		if transaction.RetryCount < transaction.MaxRetries {
			return s.fail(ctx, transaction, result.ErrorMessage)
		}

		return s.failPermanent(ctx, transaction, result.ErrorMessage, true)
	}

	return s.failPermanent(ctx, transaction, result.ErrorMessage, false)
}

func (s *Service) complete(
	ctx context.Context,
	transaction *models.Transaction,
	result *ledger.SubmitResult,
) (*models.Transaction, error) {
	transaction.Status = models.TransactionStatusCompleted
	transaction.ExternalReference = result.ExternalReference
	transaction.NextRetryAt = nil
	transaction.ErrorMessage = ""
	transaction.UpdatedAt = time.Now().UTC()

	err := s.repo.Update(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", transaction.ID, err)
	}

	err = s.appendHistory(ctx, transaction,
		models.TransactionStatusProcessing, models.TransactionStatusCompleted, "accepted by ledger")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, transaction.Reference, events.TransactionCompleted{
		BaseEvent:         s.baseEvent(events.TransactionCompletedEvent),
		TransactionID:     transaction.ID,
		Reference:         transaction.Reference,
		ExternalReference: transaction.ExternalReference,
		RetryCount:        transaction.RetryCount,
	})

	s.logger.InfoContext(ctx, "Transaction completed",
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
		"retry_count", transaction.RetryCount,
	)

	if transaction.IsReversal && transaction.ReversalOf != "" {
		err = s.markReversed(ctx, transaction)
		if err != nil {
			return nil, err
		}
	}

	return transaction, nil
}

func (s *Service) fail(ctx context.Context, transaction *models.Transaction, reason string) (*models.Transaction, error) {
	delay := models.NextBackoff(s.initialRetryDelay, transaction.RetryCount)
	nextRetry := time.Now().UTC().Add(delay)

	transaction.Status = models.TransactionStatusFailed
	transaction.NextRetryAt = &nextRetry
	transaction.UpdatedAt = time.Now().UTC()

	err := s.repo.Update(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", transaction.ID, err)
	}

	err = s.appendHistory(ctx, transaction,
		models.TransactionStatusProcessing, models.TransactionStatusFailed, reason)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, transaction.Reference, events.TransactionFailed{
		BaseEvent:     s.baseEvent(events.TransactionFailedEvent),
		TransactionID: transaction.ID,
		Reference:     transaction.Reference,
		RetryCount:    transaction.RetryCount,
		NextRetryAt:   transaction.NextRetryAt,
		Error:         reason,
	})

	s.logger.WarnContext(ctx, "Transaction failed, retry scheduled",
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
		"retry_count", transaction.RetryCount,
		"next_retry_at", nextRetry,
	)

	return transaction, nil
}

func (s *Service) failPermanent(
	ctx context.Context,
	transaction *models.Transaction,
	reason string,
	exhausted bool,
) (*models.Transaction, error) {
	transaction.Status = models.TransactionStatusFailedPermanent
	transaction.NextRetryAt = nil
	transaction.UpdatedAt = time.Now().UTC()

	err := s.repo.Update(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", transaction.ID, err)
	}

	historyReason := reason
	if exhausted {
		historyReason = fmt.Sprintf("retry budget exhausted after %d attempts: %s", transaction.RetryCount, reason)
	}

	err = s.appendHistory(ctx, transaction,
		models.TransactionStatusProcessing, models.TransactionStatusFailedPermanent, historyReason)
	if err != nil {
		return nil, err
	}

	if exhausted {
		s.publish(ctx, transaction.Reference, events.TransactionExhausted{
			BaseEvent:     s.baseEvent(events.TransactionExhaustedEvent),
			TransactionID: transaction.ID,
			Reference:     transaction.Reference,
			RetryCount:    transaction.RetryCount,
			Error:         reason,
		})
	} else {
		s.publish(ctx, transaction.Reference, events.TransactionFailed{
			BaseEvent:     s.baseEvent(events.TransactionFailedEvent),
			TransactionID: transaction.ID,
			Reference:     transaction.Reference,
			RetryCount:    transaction.RetryCount,
			Error:         reason,
		})
	}

	s.logger.ErrorContext(ctx, "Transaction permanently failed",
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
		"retry_count", transaction.RetryCount,
		"reason", reason,
	)

	return transaction, nil
}

// RecoverStuck returns a transaction abandoned in PROCESSING by a crashed
// submitter to FAILED with an immediate retry. A transaction that moved on
// since it was selected is left alone.
func (s *Service) RecoverStuck(ctx context.Context, transactionID string) (*models.Transaction, error) {
	transaction, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if transaction.Status != models.TransactionStatusProcessing {
		return transaction, nil
	}

	now := time.Now().UTC()
	transaction.Status = models.TransactionStatusFailed
	transaction.NextRetryAt = &now
	transaction.UpdatedAt = now

	err = s.repo.Update(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", transaction.ID, err)
	}

	reason := "recovered from stuck PROCESSING"

	err = s.appendHistory(ctx, transaction,
		models.TransactionStatusProcessing, models.TransactionStatusFailed, reason)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, transaction.Reference, events.TransactionFailed{
		BaseEvent:     s.baseEvent(events.TransactionFailedEvent),
		TransactionID: transaction.ID,
		Reference:     transaction.Reference,
		RetryCount:    transaction.RetryCount,
		NextRetryAt:   transaction.NextRetryAt,
		Error:         reason,
	})

	s.logger.WarnContext(ctx, "Recovered transaction stuck in PROCESSING",
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
	)

	return transaction, nil
}

// Retry resubmits a FAILED transaction regardless of its nextRetryAt. Only
// FAILED transactions with remaining retry budget qualify.
func (s *Service) Retry(ctx context.Context, transactionID string) (*models.Transaction, error) {
	transaction, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if transaction.Status.IsTerminal() {
		return nil, NewStateError(transaction.ID, transaction.Status, ErrTerminalState)
	}

	if !transaction.Retryable() {
		return nil, NewStateError(transaction.ID, transaction.Status, ErrNotRetryable)
	}

	return s.Submit(ctx, transactionID)
}

// Reverse creates and submits a compensating transaction for a COMPLETED
// one. The original transitions to REVERSED once the reversal completes.
func (s *Service) Reverse(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	original, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if original.Status == models.TransactionStatusReversed {
		// Already reversed; return the existing reversal.
		return s.repo.GetByReference(ctx, original.Reference+":reversal")
	}

	if original.Status != models.TransactionStatusCompleted {
		return nil, NewStateError(original.ID, original.Status, ErrNotReversible)
	}

	if original.IsReversal {
		return nil, fmt.Errorf("%w: transaction %s is itself a reversal", ErrNotReversible, original.ID)
	}

	reversal, err := s.Create(ctx, CreateInput{
		Reference:  original.Reference + ":reversal",
		Type:       reversalType(original.Type),
		Amount:     original.Amount,
		Currency:   original.Currency,
		FromRef:    original.ToRef,
		ToRef:      original.FromRef,
		Source:     original.Source,
		MaxRetries: original.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reversal for %s: %w", original.ID, err)
	}

	if reversal.Status.IsTerminal() {
		// A previous reversal attempt already ran to completion.
		return reversal, nil
	}

	if !reversal.IsReversal {
		reversal.IsReversal = true
		reversal.ReversalOf = original.ID
		reversal.ErrorMessage = ""
		reversal.UpdatedAt = time.Now().UTC()

		err = s.repo.Update(ctx, reversal)
		if err != nil {
			return nil, fmt.Errorf("failed to link reversal %s: %w", reversal.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "Created reversal transaction",
		"transaction_id", original.ID,
		"reversal_id", reversal.ID,
		"reason", reason,
	)

	return s.Submit(ctx, reversal.ID)
}

func (s *Service) markReversed(ctx context.Context, reversal *models.Transaction) error {
	original, err := s.repo.GetByID(ctx, reversal.ReversalOf)
	if err != nil {
		return fmt.Errorf("failed to load reversed transaction %s: %w", reversal.ReversalOf, err)
	}

	fromStatus := original.Status
	original.Status = models.TransactionStatusReversed
	original.UpdatedAt = time.Now().UTC()

	err = s.repo.Update(ctx, original)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s reversed: %w", original.ID, err)
	}

	err = s.appendHistory(ctx, original, fromStatus, models.TransactionStatusReversed,
		fmt.Sprintf("reversed by %s", reversal.ID))
	if err != nil {
		return err
	}

	s.publish(ctx, original.Reference, events.TransactionReversed{
		BaseEvent:     s.baseEvent(events.TransactionReversedEvent),
		TransactionID: original.ID,
		Reference:     original.Reference,
		ReversalID:    reversal.ID,
	})

	return nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.repo.GetByID(ctx, transactionID)
}

// GetByReference returns a transaction by its idempotency reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.repo.GetByReference(ctx, reference)
}

// List pages through transactions.
func (s *Service) List(ctx context.Context, opts persistence.ListTransactionsOptions) (*persistence.TransactionPage, error) {
	return s.repo.List(ctx, opts)
}

// History returns the append-only status history for a transaction.
func (s *Service) History(ctx context.Context, transactionID string) ([]*models.TransactionStatusChange, error) {
	if _, err := s.repo.GetByID(ctx, transactionID); err != nil {
		return nil, err
	}

	return s.repo.History(ctx, transactionID)
}

// Stats computes aggregate retry counters over the transaction table.
func (s *Service) Stats(ctx context.Context) (*models.RetryStats, error) {
	return s.repo.RetryStats(ctx)
}

func (s *Service) appendHistory(
	ctx context.Context,
	transaction *models.Transaction,
	from, to models.TransactionStatus,
	reason string,
) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate history ID: %w", err)
	}

	change := &models.TransactionStatusChange{
		ID:            id.String(),
		TransactionID: transaction.ID,
		FromStatus:    from,
		ToStatus:      to,
		Reason:        reason,
		RetryNumber:   transaction.RetryCount,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.repo.AppendHistory(ctx, change)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", transaction.ID, err)
	}

	return nil
}

func (s *Service) baseEvent(eventType events.EventType) events.BaseEvent {
	id, _ := uuid.NewV7()

	return events.BaseEvent{
		ID:        id.String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func reversalType(t models.TransactionType) models.TransactionType {
	switch t {
	case models.TransactionTypeDebit:
		return models.TransactionTypeCredit
	case models.TransactionTypeCredit:
		return models.TransactionTypeDebit
	default:
		return t
	}
}

func rawResponseJSON(body map[string]any) string {
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}

	return string(raw)
}
