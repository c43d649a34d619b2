// Package engine implements the per-session workflow execution state
// machine: it sequences ordered steps, decides what runs on the server,
// resolves template references between steps, and drives POST_TRANSACTION
// steps through the transaction state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mufaro/bankflow/pkg/eventbus"
	"github.com/mufaro/bankflow/pkg/events"
	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/otelhelper"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/transactions"
	"github.com/mufaro/bankflow/pkg/validation"
)

const defaultStepTimeout = 30 * time.Second

// InitialContextKey is the context key the start-time seed document is
// recorded under, addressable from templates as {{initial.<field>}}.
const InitialContextKey = "initial"

// StepOutcome is the structured result of one executeStep call. Failures
// surface here rather than as errors so the client can render them and let
// the user retry the step.
type StepOutcome struct {
	Success       bool              `json:"success"`
	ShouldProceed bool              `json:"should_proceed"`
	Error         string            `json:"error,omitempty"`
	FieldErrors   map[string]string `json:"field_errors,omitempty"`
	Result        any               `json:"result,omitempty"`
}

// StartResult is what starting an execution returns: the execution plus its
// ordered active steps, so the client can render the flow.
type StartResult struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Steps     []*models.WorkflowStep    `json:"steps"`
}

// Engine orchestrates workflow executions. It is invoked synchronously per
// request and owns no background work.
type Engine struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	services   ledger.ServiceAdapter
	txns       *transactions.Service
	validator  *validation.Validator
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
}

func New(
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	services ledger.ServiceAdapter,
	txns *transactions.Service,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		workflows:  workflows,
		executions: executions,
		services:   services,
		txns:       txns,
		validator:  validation.New(logger),
		publisher:  publisher,
		tracer:     otel.Tracer("bankflow-engine"),
		logger:     logger.With("module", "workflow_engine"),
	}
}

// Start creates an execution bound to the workflow's first active step.
// The initial context document, when present, is recorded under
// InitialContextKey so later steps can reference it in templates.
func (e *Engine) Start(
	ctx context.Context,
	workflowID, userID, sessionID string,
	initialContext map[string]any,
) (*StartResult, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowInactive)
	}

	steps := activeStepsInOrder(workflow)
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNoActiveSteps)
	}

	// A session owns at most one live execution. The postgres store also
	// enforces this with a partial unique index; checking here covers the
	// file store too.
	active, err := e.executions.ActiveBySession(ctx, sessionID)
	if err == nil {
		return nil, fmt.Errorf("session %s has execution %s in progress: %w",
			sessionID, active.ID, persistence.ErrActiveExecutionExists)
	}

	if !persistence.IsExecutionNotFound(err) {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execContext := models.NewExecutionContext(steps)
	if len(initialContext) > 0 {
		execContext.Record(&models.StepResult{
			StepID:     InitialContextKey,
			Success:    true,
			Result:     initialContext,
			RecordedAt: time.Now().UTC(),
		})
	}

	execution := &models.WorkflowExecution{
		ID:            id.String(),
		WorkflowID:    workflowID,
		UserID:        userID,
		SessionID:     sessionID,
		CurrentStepID: steps[0].ID,
		Status:        models.ExecutionStatusInProgress,
		Context:       execContext,
		StartedAt:     time.Now().UTC(),
	}

	err = e.executions.Save(ctx, execution)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  workflowID,
		UserID:      userID,
		SessionID:   sessionID,
	})

	e.logger.InfoContext(ctx, "Started workflow execution",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"session_id", sessionID,
		"first_step", steps[0].ID,
	)

	return &StartResult{Execution: execution, Steps: steps}, nil
}

// ExecuteStep runs one step call. Only the execution's current step is
// accepted; anything else is rejected with an out-of-sequence error.
// Adapter failures never surface as errors: they come back in the outcome
// with ShouldProceed=false so the user can retry the step.
func (e *Engine) ExecuteStep(
	ctx context.Context,
	executionID, stepID string,
	input map[string]any,
	timing models.TriggerTiming,
) (*StepOutcome, error) {
	if timing != models.TriggerTimingBeforeStep && timing != models.TriggerTimingAfterStep {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTiming, timing)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_step",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StepIDKey, stepID),
	)
	defer span.End()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusInProgress {
		return nil, fmt.Errorf("execution %s (status %s): %w", executionID, execution.Status, ErrTerminalState)
	}

	if stepID != execution.CurrentStepID {
		return nil, &SequenceError{
			ExecutionID: executionID,
			RequestedID: stepID,
			CurrentID:   execution.CurrentStepID,
		}
	}

	workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	step := workflow.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("step %s not found in workflow %s: %w",
			stepID, workflow.ID, persistence.ErrWorkflowNotFound)
	}

	if limit := step.MaxAttempts(); limit > 0 && step.RunsAt(timing) {
		if execution.Context.CountAttempt(step.ID) > limit {
			return nil, fmt.Errorf("step %s used all %d attempts: %w", step.ID, limit, ErrAttemptsExhausted)
		}
	}

	var outcome *StepOutcome

	switch timing {
	case models.TriggerTimingBeforeStep:
		outcome, err = e.executeBefore(ctx, execution, step)
	case models.TriggerTimingAfterStep:
		outcome, err = e.executeAfter(ctx, workflow, execution, step, input)
	}

	if err != nil {
		otelhelper.SetStepError(span, err, step.ID, string(step.Type))

		return nil, err
	}

	if outcome.Error != "" {
		otelhelper.SetStepError(span, errors.New(outcome.Error), step.ID, string(step.Type))
	}

	saveErr := e.executions.Save(ctx, execution)
	if saveErr != nil {
		return nil, saveErr
	}

	e.publish(ctx, execution.ID, events.StepExecuted{
		BaseEvent:     e.baseEvent(events.ExecutionStepExecuted),
		ExecutionID:   execution.ID,
		StepID:        step.ID,
		StepType:      string(step.Type),
		Timing:        string(timing),
		Success:       outcome.Success,
		ShouldProceed: outcome.ShouldProceed,
		Error:         outcome.Error,
	})

	return outcome, nil
}

// executeBefore runs a step's BEFORE_STEP server call (e.g. sending an OTP
// code). A failed call keeps the client on the current screen: the input
// form must not be shown until ShouldProceed is true.
func (e *Engine) executeBefore(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
) (*StepOutcome, error) {
	if !step.RunsAt(models.TriggerTimingBeforeStep) {
		// Nothing to run server-side before this step.
		return &StepOutcome{Success: true, ShouldProceed: true}, nil
	}

	result, callErr := e.invokeAdapter(ctx, execution, step, nil)
	if callErr != nil {
		e.recordFailure(execution, step, nil, callErr)

		return &StepOutcome{Error: callErr.Error()}, nil
	}

	execution.Context.MarkBefore(step.ID)
	execution.Context.Record(&models.StepResult{
		StepID:     step.ID,
		Success:    true,
		Result:     result,
		RecordedAt: time.Now().UTC(),
	})

	return &StepOutcome{Success: true, ShouldProceed: true, Result: result}, nil
}

// executeAfter runs once input has been collected: validates server-side,
// resolves templates, invokes the adapter, records the result, and advances
// the current step pointer when the step succeeded.
func (e *Engine) executeAfter(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
) (*StepOutcome, error) {
	if step.TriggerTiming == models.TriggerTimingBoth && !execution.Context.BeforeDone[step.ID] {
		return nil, fmt.Errorf("step %s requires a successful BEFORE_STEP call first: %w",
			step.ID, ErrOutOfSequence)
	}

	if step.Type == models.StepTypeConfirmation {
		return e.executeConfirmation(ctx, workflow, execution, step, input)
	}

	// The client is untrusted: rules are re-applied server-side for any
	// step that reaches the server.
	if step.RequiresServerCall() && len(step.ValidationRules) > 0 {
		fieldErrors := e.validator.Validate(step.ValidationRules, input)
		if len(fieldErrors) > 0 {
			return &StepOutcome{
				Error:       "validation failed",
				FieldErrors: fieldErrors,
			}, nil
		}
	}

	if !step.RequiresServerCall() {
		// CLIENT_ONLY: trust the client's local handling and advance.
		execution.Context.Record(&models.StepResult{
			StepID:     step.ID,
			Success:    true,
			Input:      input,
			RecordedAt: time.Now().UTC(),
		})

		e.advance(workflow, execution, step)

		return &StepOutcome{Success: true, ShouldProceed: true}, nil
	}

	var (
		result  any
		callErr error
	)

	if step.Type == models.StepTypePostTransaction {
		result, callErr = e.executePostTransaction(ctx, execution, step, input)
	} else {
		result, callErr = e.invokeAdapter(ctx, execution, step, input)
	}

	if callErr != nil {
		e.recordFailure(execution, step, input, callErr)

		return &StepOutcome{Error: callErr.Error()}, nil
	}

	execution.Context.Record(&models.StepResult{
		StepID:     step.ID,
		Success:    true,
		Input:      input,
		Result:     result,
		RecordedAt: time.Now().UTC(),
	})

	e.advance(workflow, execution, step)

	return &StepOutcome{Success: true, ShouldProceed: true, Result: result}, nil
}

// executeConfirmation applies confirm/decline semantics. Declining either
// cancels the execution or moves the pointer back one active step without
// recording a context entry.
func (e *Engine) executeConfirmation(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
) (*StepOutcome, error) {
	config, err := step.ConfirmationConfig()
	if err != nil {
		return nil, err
	}

	confirmed, _ := input["confirmed"].(bool)
	if confirmed {
		execution.Context.Record(&models.StepResult{
			StepID:     step.ID,
			Success:    true,
			Input:      input,
			RecordedAt: time.Now().UTC(),
		})

		e.advance(workflow, execution, step)

		return &StepOutcome{Success: true, ShouldProceed: true}, nil
	}

	if config.DeclineAction == models.DeclineActionPreviousStep {
		steps := activeStepsInOrder(workflow)

		for i, candidate := range steps {
			if candidate.ID == step.ID && i > 0 {
				execution.CurrentStepID = steps[i-1].ID

				break
			}
		}

		return &StepOutcome{Success: true, Result: map[string]any{"declined": true}}, nil
	}

	execution.Status = models.ExecutionStatusCancelled
	execution.Error = "confirmation declined"
	now := time.Now().UTC()
	execution.CompletedAt = &now

	e.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Reason:      execution.Error,
	})

	return &StepOutcome{Success: true, Result: map[string]any{"cancelled": true}}, nil
}

// Complete snapshots the context as the final result. It is only legal once
// the last active step has recorded a result; a failed final step turns the
// execution FAILED instead.
func (e *Engine) Complete(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusInProgress {
		return nil, fmt.Errorf("execution %s (status %s): %w", executionID, execution.Status, ErrTerminalState)
	}

	workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	steps := activeStepsInOrder(workflow)
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", workflow.ID, ErrNoActiveSteps)
	}

	last := steps[len(steps)-1]
	if execution.CurrentStepID != last.ID {
		return nil, fmt.Errorf("execution %s is at step %s, not the last step: %w",
			executionID, execution.CurrentStepID, ErrNotReadyToComplete)
	}

	result, ok := execution.Context.Results[last.ID]
	if !ok {
		return nil, fmt.Errorf("last step %s has not executed: %w", last.ID, ErrNotReadyToComplete)
	}

	now := time.Now().UTC()
	execution.CompletedAt = &now
	execution.FinalResult = execution.Context.Snapshot()

	if result.Success {
		execution.Status = models.ExecutionStatusCompleted
	} else {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = result.Error
	}

	err = e.executions.Save(ctx, execution)
	if err != nil {
		return nil, err
	}

	if execution.Status == models.ExecutionStatusCompleted {
		e.publish(ctx, execution.ID, events.ExecutionCompleted{
			BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent),
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Duration:    now.Sub(execution.StartedAt),
		})
	} else {
		e.publish(ctx, execution.ID, events.ExecutionFailed{
			BaseEvent:   e.baseEvent(events.ExecutionFailedEvent),
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Error:       execution.Error,
		})
	}

	e.logger.InfoContext(ctx, "Completed workflow execution",
		"execution_id", execution.ID,
		"status", execution.Status,
	)

	return execution, nil
}

// Cancel terminates an IN_PROGRESS execution. Cancellation never rolls back
// transactions already completed by earlier steps.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusInProgress {
		return nil, fmt.Errorf("execution %s (status %s): %w", executionID, execution.Status, ErrTerminalState)
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.Error = reason
	execution.CompletedAt = &now

	err = e.executions.Save(ctx, execution)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Reason:      reason,
	})

	e.logger.InfoContext(ctx, "Cancelled workflow execution",
		"execution_id", execution.ID,
		"reason", reason,
	)

	return execution, nil
}

// Get returns an execution by ID.
func (e *Engine) Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, executionID)
}

// ActiveBySession returns the session's single active execution.
func (e *Engine) ActiveBySession(ctx context.Context, sessionID string) (*models.WorkflowExecution, error) {
	return e.executions.ActiveBySession(ctx, sessionID)
}

// advance moves the current step pointer to the next active step. On the
// last step the pointer stays put; Complete finishes the execution.
func (e *Engine) advance(workflow *models.Workflow, execution *models.WorkflowExecution, current *models.WorkflowStep) {
	steps := activeStepsInOrder(workflow)

	for i, step := range steps {
		if step.ID == current.ID && i+1 < len(steps) {
			execution.CurrentStepID = steps[i+1].ID

			return
		}
	}
}

func (e *Engine) recordFailure(
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
	callErr error,
) {
	execution.Context.Record(&models.StepResult{
		StepID:     step.ID,
		Input:      input,
		Error:      callErr.Error(),
		RecordedAt: time.Now().UTC(),
	})
}

func (e *Engine) baseEvent(eventType events.EventType) events.BaseEvent {
	id, _ := uuid.NewV7()

	return events.BaseEvent{
		ID:        id.String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func activeStepsInOrder(workflow *models.Workflow) []*models.WorkflowStep {
	steps := workflow.ActiveSteps()

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})

	return steps
}
