package web

import (
	"github.com/mufaro/bankflow/pkg/models"
)

// StartExecutionRequest starts a workflow execution for a session.
type StartExecutionRequest struct {
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	UserID         string         `json:"user_id"         validate:"required"`
	SessionID      string         `json:"session_id"      validate:"required"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
}

// ExecuteStepRequest runs one step call at a given timing.
type ExecuteStepRequest struct {
	Input  map[string]any `json:"input,omitempty"`
	Timing string         `json:"timing" validate:"required,oneof=BEFORE_STEP AFTER_STEP"`
}

// CancelExecutionRequest cancels an in-progress execution.
type CancelExecutionRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateTransactionRequest creates a transaction outside a workflow.
type CreateTransactionRequest struct {
	Reference  string  `json:"reference"   validate:"required"`
	Type       string  `json:"type"        validate:"required,oneof=DEBIT CREDIT TRANSFER WALLET_TRANSFER"`
	Amount     float64 `json:"amount"      validate:"required,gt=0"`
	Currency   string  `json:"currency"    validate:"required,len=3"`
	FromRef    string  `json:"from_ref,omitempty"`
	ToRef      string  `json:"to_ref,omitempty"`
	Source     string  `json:"source,omitempty"`
	MaxRetries int     `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
	Submit     bool    `json:"submit,omitempty"`
}

// ReverseTransactionRequest reverses a completed transaction.
type ReverseTransactionRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// TransactionResponse is the common envelope for transaction mutations.
type TransactionResponse struct {
	Success     bool                `json:"success"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Message     string              `json:"message,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
}

// CreateWorkflowRequest creates a workflow definition.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	IsActive    bool                   `json:"is_active"`
	Steps       []*models.WorkflowStep `json:"steps"       validate:"required,min=1,dive"`
}

// UpdateWorkflowRequest replaces a workflow definition.
type UpdateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	IsActive    bool                   `json:"is_active"`
	Steps       []*models.WorkflowStep `json:"steps"       validate:"required,min=1,dive"`
}
