package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/mufaro/bankflow/pkg/audit"
	"github.com/mufaro/bankflow/pkg/cmd"
	"github.com/mufaro/bankflow/pkg/log"
)

const defaultPort = 9090

func main() {
	command := &cli.Command{
		Name:                  "bankflow-api",
		Usage:                 "Run the workflow execution and transaction API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
				Name:    "services-url",
				Usage:   "Base URL for downstream service endpoints",
				Sources: cli.EnvVars("SERVICES_URL"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Bankflow API")

			cmd.SetupTracing(ctx, "bankflow-api", logger)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "api", logger)
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

			serviceAdapter, err := cmd.NewServiceAdapter(command.String("services-url"), logger)
			if err != nil {
				return err
			}

			locker, err := cmd.NewLocker(ctx,
				command.String("redis-addr"), command.String("redis-password"), logger)
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, eventBus, ledgerAdapter, serviceAdapter, locker)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
