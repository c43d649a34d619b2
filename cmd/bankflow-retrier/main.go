// Package main provides the background retry scheduler for transactions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/mufaro/bankflow/pkg/audit"
	"github.com/mufaro/bankflow/pkg/cmd"
	"github.com/mufaro/bankflow/pkg/log"
	"github.com/mufaro/bankflow/pkg/retrier"
	"github.com/mufaro/bankflow/pkg/transactions"
)

func main() {
	command := &cli.Command{
		Name:                  "bankflow-retrier",
		Usage:                 "Run the background transaction retry scheduler",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "ledger-url",
				Usage:    "Base URL of the core-banking ledger API",
				Required: true,
				Sources:  cli.EnvVars("LEDGER_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for cross-process reference locks",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to scan for due retries",
				Value:   retrier.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum due transactions picked up per scan",
				Value:   retrier.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent resubmission workers",
				Value:   retrier.DefaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("retrier")
	logger.InfoContext(ctx, "Initializing Bankflow retry scheduler")

	cmd.SetupTracing(ctx, "bankflow-retrier", logger)

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "retrier", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	err = audit.NewTrail(eventBus, logger).Start(ctx)
	if err != nil {
		return err
	}

	ledgerAdapter, err := cmd.NewLedgerAdapter(command.String("ledger-url"), 0, logger)
	if err != nil {
		return err
	}

	locker, err := cmd.NewLocker(ctx,
		command.String("redis-addr"), command.String("redis-password"), logger)
	if err != nil {
		return err
	}

	txnService := transactions.NewService(
		persistence.TransactionRepository(),
		ledgerAdapter,
		locker,
		eventBus,
		logger,
	)

	scheduler := retrier.NewScheduler(
		txnService,
		persistence.TransactionRepository(),
		retrier.Config{
			PollInterval: command.Duration("poll-interval"),
			BatchSize:    command.Int("batch-size"),
			Workers:      command.Int("workers"),
		},
		logger,
	)

	err = scheduler.Start(ctx)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.InfoContext(ctx, "Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return scheduler.Stop(stopCtx)
}
