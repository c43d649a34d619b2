package transactions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/locks"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence/file"
)

// scriptedAdapter returns one scripted result per call, then keeps returning
// the last one.
type scriptedAdapter struct {
	mu      sync.Mutex
	calls   atomic.Int64
	results []*ledger.SubmitResult
	err     error
}

func (a *scriptedAdapter) SubmitTransaction(_ context.Context, _ *models.Transaction) (*ledger.SubmitResult, error) {
	n := a.calls.Add(1)

	if a.err != nil {
		return nil, a.err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	index := int(n) - 1
	if index >= len(a.results) {
		index = len(a.results) - 1
	}

	return a.results[index], nil
}

func accepted(externalRef string) *ledger.SubmitResult {
	return &ledger.SubmitResult{Accepted: true, ExternalReference: externalRef}
}

func retryable(message string) *ledger.SubmitResult {
	return &ledger.SubmitResult{Retryable: true, ErrorMessage: message}
}

func rejected(message string) *ledger.SubmitResult {
	return &ledger.SubmitResult{ErrorMessage: message}
}

func newTestService(t *testing.T, adapter ledger.Adapter) *Service {
	t.Helper()

	service := NewService(
		file.NewPersistence(t.TempDir()).TransactionRepository(),
		adapter,
		locks.NewLocalLocker(),
		nil,
		slog.Default(),
	)
	service.initialRetryDelay = 10 * time.Millisecond

	return service
}

func debitInput(reference string) CreateInput {
	return CreateInput{
		Reference: reference,
		Type:      models.TransactionTypeDebit,
		Amount:    150,
		Currency:  "usd",
		FromRef:   "ACC-001",
	}
}

func TestCreate_NormalizesAndDefaults(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{})

	txn, err := service.Create(t.Context(), debitInput("TXN-CREATE-1"))
	require.NoError(t, err)

	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, models.DefaultMaxRetries, txn.MaxRetries)

	history, err := service.History(t.Context(), txn.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TransactionStatusPending, history[0].ToStatus)
}

func TestCreate_ReferenceIsIdempotent(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{})

	first, err := service.Create(t.Context(), debitInput("TXN-IDEM-1"))
	require.NoError(t, err)

	second, err := service.Create(t.Context(), debitInput("TXN-IDEM-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreate_TransferRequiresBothRefs(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{})

	_, err := service.Create(t.Context(), CreateInput{
		Reference: "TXN-TRANSFER-1",
		Type:      models.TransactionTypeTransfer,
		Amount:    50,
		Currency:  "USD",
		FromRef:   "ACC-001",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{})

	_, err := service.Create(t.Context(), CreateInput{
		Reference: "TXN-BAD-1",
		Type:      "GIFT",
		Amount:    -5,
		Currency:  "USDX",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_AcceptedFirstTry(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-42")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-OK-1"))
	require.NoError(t, err)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "LEDGER-42", txn.ExternalReference)
	assert.Equal(t, 0, txn.RetryCount)
	assert.Nil(t, txn.NextRetryAt)
	assert.Equal(t, int64(1), adapter.calls.Load())
}

func TestSubmit_RetryableFailuresThenSuccess(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{
		retryable("ledger unavailable"),
		retryable("ledger unavailable"),
		retryable("ledger unavailable"),
		accepted("LEDGER-77"),
	}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-RETRY-1"))
	require.NoError(t, err)

	for attempt := 0; attempt < 3; attempt++ {
		txn, err = service.Submit(t.Context(), txn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusFailed, txn.Status)
		assert.Equal(t, attempt+1, txn.RetryCount)
		require.NotNil(t, txn.NextRetryAt)
	}

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, 3, txn.RetryCount)
	assert.Nil(t, txn.NextRetryAt)
	assert.Empty(t, txn.ErrorMessage)

	history, err := service.History(t.Context(), txn.ID)
	require.NoError(t, err)

	// PENDING, then a PROCESSING row per attempt, three FAILED rows, and
	// the final COMPLETED row.
	require.Len(t, history, 9)
	assert.Equal(t, models.TransactionStatusPending, history[0].ToStatus)
	assert.Equal(t, models.TransactionStatusCompleted, history[len(history)-1].ToStatus)

	failed := 0
	for _, change := range history {
		if change.ToStatus == models.TransactionStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestSubmit_RetryBudgetExhaustion(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{retryable("ledger down")}}
	service := newTestService(t, adapter)

	input := debitInput("TXN-EXHAUST-1")
	input.MaxRetries = 2

	txn, err := service.Create(t.Context(), input)
	require.NoError(t, err)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusFailedPermanent, txn.Status)
	assert.Equal(t, 2, txn.RetryCount)
	assert.Nil(t, txn.NextRetryAt)

	history, err := service.History(t.Context(), txn.ID)
	require.NoError(t, err)

	last := history[len(history)-1]
	assert.Equal(t, models.TransactionStatusFailedPermanent, last.ToStatus)
	assert.Contains(t, last.Reason, "retry budget exhausted after 2 attempts")
}

func TestSubmit_NonRetryableRejectionIsPermanent(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{rejected("insufficient funds")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-REJECT-1"))
	require.NoError(t, err)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusFailedPermanent, txn.Status)
	assert.Equal(t, 0, txn.RetryCount)
	assert.Equal(t, "insufficient funds", txn.ErrorMessage)
	assert.Equal(t, int64(1), adapter.calls.Load())
}

func TestSubmit_AdapterPlumbingErrorIsRetryable(t *testing.T) {
	adapter := &scriptedAdapter{err: errors.New("connection reset")}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-PLUMBING-1"))
	require.NoError(t, err)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	assert.Equal(t, 1, txn.RetryCount)
	assert.Contains(t, txn.ErrorMessage, "connection reset")
}

func TestSubmit_TerminalStateIsRejected(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-1")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-TERMINAL-1"))
	require.NoError(t, err)

	_, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	returned, err := service.Submit(t.Context(), txn.ID)
	require.Error(t, err)
	assert.True(t, IsTerminalState(err))
	assert.Equal(t, models.TransactionStatusCompleted, returned.Status)
	assert.Equal(t, int64(1), adapter.calls.Load())
}

func TestSubmit_ConcurrentCallsHitLedgerOnce(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-ONCE")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-CONCURRENT-1"))
	require.NoError(t, err)

	const submitters = 8

	var wg sync.WaitGroup

	var completions atomic.Int64

	for i := 0; i < submitters; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := service.Submit(context.Background(), txn.ID)
			if err == nil && result.Status == models.TransactionStatusCompleted {
				completions.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), adapter.calls.Load())
	assert.Equal(t, int64(1), completions.Load())

	final, err := service.Get(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, final.Status)
}

func TestRetry_RejectsNonRetryable(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-1")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-NORETRY-1"))
	require.NoError(t, err)

	// PENDING is submitted via Submit, not Retry.
	_, err = service.Retry(t.Context(), txn.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	_, err = service.Retry(t.Context(), txn.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestRetry_ResubmitsFailed(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{
		retryable("ledger unavailable"),
		accepted("LEDGER-2ND"),
	}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-MANUAL-1"))
	require.NoError(t, err)

	txn, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)

	txn, err = service.Retry(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
}

func TestReverse_CompletedTransaction(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-A"), accepted("LEDGER-B")}}
	service := newTestService(t, adapter)

	input := debitInput("TXN-REV-1")
	input.ToRef = "ACC-002"

	txn, err := service.Create(t.Context(), input)
	require.NoError(t, err)

	_, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	reversal, err := service.Reverse(t.Context(), txn.ID, "customer dispute")
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusCompleted, reversal.Status)
	assert.True(t, reversal.IsReversal)
	assert.Equal(t, txn.ID, reversal.ReversalOf)
	assert.Equal(t, "TXN-REV-1:reversal", reversal.Reference)
	assert.Equal(t, models.TransactionTypeCredit, reversal.Type)
	assert.Equal(t, "ACC-002", reversal.FromRef)
	assert.Equal(t, "ACC-001", reversal.ToRef)

	original, err := service.Get(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusReversed, original.Status)

	history, err := service.History(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusReversed, history[len(history)-1].ToStatus)
}

func TestReverse_IsIdempotent(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-A"), accepted("LEDGER-B")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-REV-2"))
	require.NoError(t, err)

	_, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	first, err := service.Reverse(t.Context(), txn.ID, "dispute")
	require.NoError(t, err)

	second, err := service.Reverse(t.Context(), txn.ID, "dispute")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), adapter.calls.Load())
}

func TestReverse_RejectsNonCompleted(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{})

	txn, err := service.Create(t.Context(), debitInput("TXN-REV-3"))
	require.NoError(t, err)

	_, err = service.Reverse(t.Context(), txn.ID, "dispute")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReversible)
}

func TestReverse_RejectsReversalOfReversal(t *testing.T) {
	adapter := &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-A"), accepted("LEDGER-B")}}
	service := newTestService(t, adapter)

	txn, err := service.Create(t.Context(), debitInput("TXN-REV-4"))
	require.NoError(t, err)

	_, err = service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)

	reversal, err := service.Reverse(t.Context(), txn.ID, "dispute")
	require.NoError(t, err)

	_, err = service.Reverse(t.Context(), reversal.ID, "oops")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReversible)
}

func TestRecoverStuck_RecordsTransitionAndSkipsSettled(t *testing.T) {
	service := newTestService(t, &scriptedAdapter{results: []*ledger.SubmitResult{accepted("LEDGER-R-1")}})

	txn, err := service.Create(t.Context(), debitInput("TXN-RECOVER-1"))
	require.NoError(t, err)

	// Abandoned mid-submission.
	txn.Status = models.TransactionStatusProcessing
	require.NoError(t, service.repo.Update(t.Context(), txn))

	recovered, err := service.RecoverStuck(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, recovered.Status)
	require.NotNil(t, recovered.NextRetryAt)

	history, err := service.History(t.Context(), txn.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	last := history[len(history)-1]
	assert.Equal(t, models.TransactionStatusProcessing, last.FromStatus)
	assert.Equal(t, models.TransactionStatusFailed, last.ToStatus)
	assert.Contains(t, last.Reason, "recovered from stuck PROCESSING")

	// Once settled, the sweep leaves the transaction alone.
	done, err := service.Submit(t.Context(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusCompleted, done.Status)

	same, err := service.RecoverStuck(t.Context(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, same.Status)
}
