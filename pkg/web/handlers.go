// Package web provides the REST endpoints for workflow executions and
// transactions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mufaro/bankflow/pkg/engine"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/services"
	"github.com/mufaro/bankflow/pkg/transactions"
)

type APIHandlers struct {
	engine          *engine.Engine
	txns            *transactions.Service
	workflowService *services.Workflow
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowEngine *engine.Engine,
	txns *transactions.Service,
	workflowService *services.Workflow,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:          workflowEngine,
		txns:            txns,
		workflowService: workflowService,
		validator:       validator,
	}
}

// Execution endpoints

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Start(c.Context(), req.WorkflowID, req.UserID, req.SessionID, req.InitialContext)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) ExecuteStep(c fiber.Ctx) error {
	executionID := c.Params("id")
	stepID := c.Params("stepId")

	if executionID == "" || stepID == "" {
		return badRequest(c, "Execution ID and step ID are required")
	}

	var req ExecuteStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.engine.ExecuteStep(
		c.Context(), executionID, stepID, req.Input, models.TriggerTiming(req.Timing))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) CompleteExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.Complete(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      execution.Status == models.ExecutionStatusCompleted,
		"execution_id": execution.ID,
		"status":       execution.Status,
		"result":       execution.FinalResult,
		"error":        execution.Error,
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.Cancel(c.Context(), executionID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.Get(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetSessionExecution(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	execution, err := h.engine.ActiveBySession(c.Context(), sessionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// Transaction endpoints

func (h *APIHandlers) CreateTransaction(c fiber.Ctx) error {
	var req CreateTransactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	transaction, err := h.txns.Create(c.Context(), transactions.CreateInput{
		Reference:  req.Reference,
		Type:       models.TransactionType(req.Type),
		Amount:     req.Amount,
		Currency:   req.Currency,
		FromRef:    req.FromRef,
		ToRef:      req.ToRef,
		Source:     req.Source,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Submit {
		transaction, err = h.txns.Submit(c.Context(), transaction.ID)
		if err != nil && !transactions.IsAlreadyProcessing(err) {
			return handleServiceError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(TransactionResponse{
		Success:     true,
		Transaction: transaction,
	})
}

func (h *APIHandlers) SubmitTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	transaction, err := h.txns.Submit(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransactionResponse{
		Success:     transaction.Status == models.TransactionStatusCompleted,
		Transaction: transaction,
		Message:     transaction.ErrorMessage,
	})
}

func (h *APIHandlers) RetryTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	transaction, err := h.txns.Retry(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransactionResponse{
		Success:     transaction.Status == models.TransactionStatusCompleted,
		Transaction: transaction,
		Message:     transaction.ErrorMessage,
	})
}

func (h *APIHandlers) ReverseTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	var req ReverseTransactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	reversal, err := h.txns.Reverse(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransactionResponse{
		Success:     reversal.Status == models.TransactionStatusCompleted,
		Transaction: reversal,
		Message:     reversal.ErrorMessage,
	})
}

func (h *APIHandlers) GetTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	transaction, err := h.txns.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(transaction)
}

func (h *APIHandlers) GetTransactionByReference(c fiber.Ctx) error {
	reference := c.Params("reference")
	if reference == "" {
		return badRequest(c, "Transaction reference is required")
	}

	transaction, err := h.txns.GetByReference(c.Context(), reference)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(transaction)
}

func (h *APIHandlers) ListTransactions(c fiber.Ctx) error {
	opts, err := h.parseListTransactionsOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.txns.List(c.Context(), *opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"transactions":  result.Transactions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func (h *APIHandlers) parseListTransactionsOptions(c fiber.Ctx) (*persistence.ListTransactionsOptions, error) {
	opts := &persistence.ListTransactionsOptions{Limit: 20}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.TransactionStatus(statusStr)
		opts.Status = &status
	}

	if typeStr := c.Query("type"); typeStr != "" {
		transactionType := models.TransactionType(typeStr)
		opts.Type = &transactionType
	}

	opts.Reference = c.Query("reference")

	return opts, nil
}

func (h *APIHandlers) GetTransactionHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	history, err := h.txns.History(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"transaction_id": id,
		"history":        history,
	})
}

func (h *APIHandlers) GetRetryStats(c fiber.Ctx) error {
	stats, err := h.txns.Stats(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// Workflow endpoints

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit")
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "Invalid offset")
		}

		req.Offset = offset
	}

	if activeStr := c.Query("only_active"); activeStr != "" {
		onlyActive, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid only_active")
		}

		req.OnlyActive = onlyActive
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		Steps:       req.Steps,
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		Steps:       req.Steps,
	}

	updated, err := h.workflowService.Update(c.Context(), id, workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
