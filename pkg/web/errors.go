package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/mufaro/bankflow/pkg/engine"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/services"
	"github.com/mufaro/bankflow/pkg/transactions"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps domain errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case engine.IsOutOfSequence(err):
		return conflict(c, "out_of_sequence", err.Error())

	case engine.IsTerminalState(err) || transactions.IsTerminalState(err):
		return conflict(c, "terminal_state", err.Error())

	case transactions.IsAlreadyProcessing(err):
		return conflict(c, "already_processing", err.Error())

	case errors.Is(err, engine.ErrAttemptsExhausted):
		return conflict(c, "attempts_exhausted", err.Error())

	case errors.Is(err, transactions.ErrNotRetryable) ||
		errors.Is(err, transactions.ErrNotReversible) ||
		errors.Is(err, transactions.ErrInvalidInput) ||
		errors.Is(err, engine.ErrInvalidTiming) ||
		errors.Is(err, engine.ErrWorkflowInactive) ||
		errors.Is(err, engine.ErrNotReadyToComplete):
		return badRequest(c, err.Error())

	case persistence.IsActiveExecutionExists(err):
		return conflict(c, "active_execution_exists", err.Error())

	case persistence.IsDuplicateReference(err):
		return conflict(c, "duplicate_reference", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsTransactionNotFound(err):
		return notFound(c, "transaction not found")

	default:
		return internalError(c, err)
	}
}
