// Package main provides the bankflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mufaro/bankflow/pkg/engine"
	"github.com/mufaro/bankflow/pkg/eventbus"
	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/locks"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/services"
	"github.com/mufaro/bankflow/pkg/transactions"
	"github.com/mufaro/bankflow/pkg/web"
)

type API struct {
	logger         *slog.Logger
	persistence    persistence.Persistence
	eventBus       eventbus.EventBus
	ledgerAdapter  ledger.Adapter
	serviceAdapter ledger.ServiceAdapter
	locker         locks.Locker
	validate       *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	ledgerAdapter ledger.Adapter,
	serviceAdapter ledger.ServiceAdapter,
	locker locks.Locker,
) *API {
	return &API{
		logger:         logger,
		persistence:    persistence,
		eventBus:       eventBus,
		ledgerAdapter:  ledgerAdapter,
		serviceAdapter: serviceAdapter,
		locker:         locker,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)

	txnService := transactions.NewService(
		a.persistence.TransactionRepository(),
		a.ledgerAdapter,
		a.locker,
		a.eventBus,
		a.logger,
	)

	workflowEngine := engine.New(
		a.persistence.WorkflowRepository(),
		a.persistence.ExecutionRepository(),
		a.serviceAdapter,
		txnService,
		a.eventBus,
		a.logger,
	)

	handlers := web.NewAPIHandlers(workflowEngine, txnService, workflowService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Bankflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/steps/:stepId", handlers.ExecuteStep)
	e.Post("/:id/complete", handlers.CompleteExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Get("/sessions/:sessionId/execution", handlers.GetSessionExecution)

	t := app.Group("/transactions")
	t.Get("/", handlers.ListTransactions)
	t.Post("/", handlers.CreateTransaction)
	t.Get("/stats", handlers.GetRetryStats)
	t.Get("/reference/:reference", handlers.GetTransactionByReference)
	t.Get("/:id", handlers.GetTransaction)
	t.Post("/:id/submit", handlers.SubmitTransaction)
	t.Post("/:id/retry", handlers.RetryTransaction)
	t.Post("/:id/reverse", handlers.ReverseTransaction)
	t.Get("/:id/history", handlers.GetTransactionHistory)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
