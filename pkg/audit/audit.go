// Package audit consumes lifecycle events off the bus and writes the
// structured audit trail used by support and reconciliation tooling.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mufaro/bankflow/pkg/eventbus"
	"github.com/mufaro/bankflow/pkg/events"
)

// Trail subscribes to every execution and transaction lifecycle event and
// logs one audit entry per event.
type Trail struct {
	bus    eventbus.EventSubscriber
	logger *slog.Logger
}

func NewTrail(bus eventbus.EventSubscriber, logger *slog.Logger) *Trail {
	return &Trail{
		bus:    bus,
		logger: logger.With("module", "audit_trail"),
	}
}

// Start registers the per-event handlers and begins consuming. It returns
// once the subscription is live; delivery happens in the background until
// ctx is cancelled.
func (t *Trail) Start(ctx context.Context) error {
	t.bus.Handle(events.ExecutionStartedEvent, t.onExecutionStarted)
	t.bus.Handle(events.ExecutionStepExecuted, t.onStepExecuted)
	t.bus.Handle(events.ExecutionCompletedEvent, t.onExecutionCompleted)
	t.bus.Handle(events.ExecutionFailedEvent, t.onExecutionFailed)
	t.bus.Handle(events.ExecutionCancelledEvent, t.onExecutionCancelled)
	t.bus.Handle(events.TransactionCreatedEvent, t.onTransactionCreated)
	t.bus.Handle(events.TransactionCompletedEvent, t.onTransactionCompleted)
	t.bus.Handle(events.TransactionFailedEvent, t.onTransactionFailed)
	t.bus.Handle(events.TransactionExhaustedEvent, t.onTransactionExhausted)
	t.bus.Handle(events.TransactionReversedEvent, t.onTransactionReversed)

	return t.bus.Subscribe(ctx)
}

func (t *Trail) onExecutionStarted(ctx context.Context, event any) error {
	e, ok := event.(*events.ExecutionStarted)
	if !ok {
		return unexpectedPayload(events.ExecutionStartedEvent, event)
	}

	t.logger.InfoContext(ctx, "Execution started",
		"execution_id", e.ExecutionID,
		"workflow_id", e.WorkflowID,
		"user_id", e.UserID,
		"session_id", e.SessionID,
	)

	return nil
}

func (t *Trail) onStepExecuted(ctx context.Context, event any) error {
	e, ok := event.(*events.StepExecuted)
	if !ok {
		return unexpectedPayload(events.ExecutionStepExecuted, event)
	}

	t.logger.InfoContext(ctx, "Step executed",
		"execution_id", e.ExecutionID,
		"step_id", e.StepID,
		"step_type", e.StepType,
		"timing", e.Timing,
		"success", e.Success,
		"error", e.Error,
	)

	return nil
}

func (t *Trail) onExecutionCompleted(ctx context.Context, event any) error {
	e, ok := event.(*events.ExecutionCompleted)
	if !ok {
		return unexpectedPayload(events.ExecutionCompletedEvent, event)
	}

	t.logger.InfoContext(ctx, "Execution completed",
		"execution_id", e.ExecutionID,
		"workflow_id", e.WorkflowID,
		"duration", e.Duration,
	)

	return nil
}

func (t *Trail) onExecutionFailed(ctx context.Context, event any) error {
	e, ok := event.(*events.ExecutionFailed)
	if !ok {
		return unexpectedPayload(events.ExecutionFailedEvent, event)
	}

	t.logger.WarnContext(ctx, "Execution failed",
		"execution_id", e.ExecutionID,
		"workflow_id", e.WorkflowID,
		"error", e.Error,
	)

	return nil
}

func (t *Trail) onExecutionCancelled(ctx context.Context, event any) error {
	e, ok := event.(*events.ExecutionCancelled)
	if !ok {
		return unexpectedPayload(events.ExecutionCancelledEvent, event)
	}

	t.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", e.ExecutionID,
		"workflow_id", e.WorkflowID,
		"reason", e.Reason,
	)

	return nil
}

func (t *Trail) onTransactionCreated(ctx context.Context, event any) error {
	e, ok := event.(*events.TransactionCreated)
	if !ok {
		return unexpectedPayload(events.TransactionCreatedEvent, event)
	}

	t.logger.InfoContext(ctx, "Transaction created",
		"transaction_id", e.TransactionID,
		"reference", e.Reference,
		"amount", e.Amount,
		"currency", e.Currency,
		"is_reversal", e.IsReversal,
	)

	return nil
}

func (t *Trail) onTransactionCompleted(ctx context.Context, event any) error {
	e, ok := event.(*events.TransactionCompleted)
	if !ok {
		return unexpectedPayload(events.TransactionCompletedEvent, event)
	}

	t.logger.InfoContext(ctx, "Transaction completed",
		"transaction_id", e.TransactionID,
		"reference", e.Reference,
		"external_reference", e.ExternalReference,
		"retry_count", e.RetryCount,
	)

	return nil
}

func (t *Trail) onTransactionFailed(ctx context.Context, event any) error {
	e, ok := event.(*events.TransactionFailed)
	if !ok {
		return unexpectedPayload(events.TransactionFailedEvent, event)
	}

	t.logger.WarnContext(ctx, "Transaction failed",
		"transaction_id", e.TransactionID,
		"reference", e.Reference,
		"retry_count", e.RetryCount,
		"next_retry_at", e.NextRetryAt,
		"error", e.Error,
	)

	return nil
}

func (t *Trail) onTransactionExhausted(ctx context.Context, event any) error {
	e, ok := event.(*events.TransactionExhausted)
	if !ok {
		return unexpectedPayload(events.TransactionExhaustedEvent, event)
	}

	t.logger.ErrorContext(ctx, "Transaction retry budget exhausted",
		"transaction_id", e.TransactionID,
		"reference", e.Reference,
		"retry_count", e.RetryCount,
		"error", e.Error,
	)

	return nil
}

func (t *Trail) onTransactionReversed(ctx context.Context, event any) error {
	e, ok := event.(*events.TransactionReversed)
	if !ok {
		return unexpectedPayload(events.TransactionReversedEvent, event)
	}

	t.logger.InfoContext(ctx, "Transaction reversed",
		"transaction_id", e.TransactionID,
		"reference", e.Reference,
		"reversal_id", e.ReversalID,
	)

	return nil
}

func unexpectedPayload(eventType events.EventType, event any) error {
	return fmt.Errorf("unexpected payload %T for %s", event, eventType)
}
