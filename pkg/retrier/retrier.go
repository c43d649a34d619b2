// Package retrier runs the background retry scheduler: it polls for due,
// retryable transactions and resubmits them through the transaction state
// machine.
package retrier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/transactions"
)

const (
	// DefaultPollInterval is how often the scheduler looks for due retries.
	DefaultPollInterval = 30 * time.Second

	// DefaultBatchSize caps how many due transactions one poll picks up.
	DefaultBatchSize = 50

	// DefaultWorkers bounds concurrent resubmissions.
	DefaultWorkers = 4

	// defaultStuckCutoff is how long a transaction may sit in PROCESSING
	// before the reconciliation sweep considers it abandoned.
	defaultStuckCutoff = 15 * time.Minute

	// reconcileSchedule runs the stuck-PROCESSING sweep every 10 minutes.
	reconcileSchedule = "*/10 * * * *"
)

// Config tunes the scheduler. Zero values fall back to the defaults above.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	StuckCutoff  time.Duration
}

// Scheduler polls the transaction table for FAILED transactions whose
// nextRetryAt has passed and resubmits them. Submissions go through the
// transaction service, so per-reference serialization and the PROCESSING
// claim apply the same as for manual retries. A cron sweep recovers
// transactions abandoned in PROCESSING by a crashed submitter.
type Scheduler struct {
	service *transactions.Service
	repo    persistence.TransactionRepository
	config  Config
	logger  *slog.Logger

	ticker  *time.Ticker
	cron    *cron.Cron
	done    chan bool
	started bool
	mu      sync.Mutex
}

func NewScheduler(
	service *transactions.Service,
	repo persistence.TransactionRepository,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}

	if config.StuckCutoff <= 0 {
		config.StuckCutoff = defaultStuckCutoff
	}

	return &Scheduler{
		service: service,
		repo:    repo,
		config:  config,
		logger:  logger.With("module", "retry_scheduler"),
	}
}

// Start begins the poll loop and the reconciliation sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting retry scheduler",
		"poll_interval", s.config.PollInterval,
		"batch_size", s.config.BatchSize,
		"workers", s.config.Workers,
	)

	s.ticker = time.NewTicker(s.config.PollInterval)
	s.done = make(chan bool)
	s.started = true

	s.cron = cron.New()

	_, err := s.cron.AddFunc(reconcileSchedule, func() {
		s.reconcileStuck(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()

	go s.poll(ctx)

	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping retry scheduler")

	s.ticker.Stop()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.processDueRetries(ctx)
		}
	}
}

func (s *Scheduler) processDueRetries(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.repo.DueForRetry(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query due retries", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "Processing due retries", "count", len(due))

	sem := make(chan struct{}, s.config.Workers)

	var wg sync.WaitGroup

	for _, transaction := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(txn *models.Transaction) {
			defer wg.Done()
			defer func() { <-sem }()

			s.resubmit(ctx, txn)
		}(transaction)
	}

	wg.Wait()
}

func (s *Scheduler) resubmit(ctx context.Context, transaction *models.Transaction) {
	logger := s.logger.With(
		"transaction_id", transaction.ID,
		"reference", transaction.Reference,
		"retry_count", transaction.RetryCount,
	)

	logger.InfoContext(ctx, "Resubmitting transaction")

	result, err := s.service.Submit(ctx, transaction.ID)
	if err != nil {
		if transactions.IsAlreadyProcessing(err) || transactions.IsTerminalState(err) {
			// Another submitter got there first.
			logger.DebugContext(ctx, "Skipping transaction", "reason", err)

			return
		}

		logger.ErrorContext(ctx, "Failed to resubmit transaction", "error", err)

		return
	}

	logger.InfoContext(ctx, "Resubmission finished", "status", result.Status)
}

// reconcileStuck returns transactions abandoned in PROCESSING to FAILED so
// the poll loop picks them up again.
func (s *Scheduler) reconcileStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.StuckCutoff)

	stuck, err := s.repo.StuckProcessing(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query stuck transactions", "error", err)

		return
	}

	for _, transaction := range stuck {
		_, err = s.service.RecoverStuck(ctx, transaction.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to recover stuck transaction",
				"transaction_id", transaction.ID,
				"error", err,
			)
		}
	}
}

// Stats reports the aggregate retry counters, computed on demand.
func (s *Scheduler) Stats(ctx context.Context) (*models.RetryStats, error) {
	return s.repo.RetryStats(ctx)
}
