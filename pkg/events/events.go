// Package events defines event types for execution and transaction lifecycle
// notifications.
package events

import (
	"time"
)

type EventType string

// Kafka topic for all lifecycle events.
const Topic = "bankflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionStepExecuted   EventType = "execution.step.executed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Transaction lifecycle events.
	TransactionCreatedEvent   EventType = "transaction.created"
	TransactionCompletedEvent EventType = "transaction.completed"
	TransactionFailedEvent    EventType = "transaction.failed"
	TransactionExhaustedEvent EventType = "transaction.exhausted"
	TransactionReversedEvent  EventType = "transaction.reversed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type StepExecuted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	StepID        string `json:"step_id"`
	StepType      string `json:"step_type"`
	Timing        string `json:"timing"`
	Success       bool   `json:"success"`
	ShouldProceed bool   `json:"should_proceed"`
	Error         string `json:"error,omitempty"`
}

func (e StepExecuted) GetType() EventType { return ExecutionStepExecuted }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type TransactionCreated struct {
	BaseEvent

	TransactionID string  `json:"transaction_id"`
	Reference     string  `json:"reference"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	IsReversal    bool    `json:"is_reversal"`
}

func (e TransactionCreated) GetType() EventType { return TransactionCreatedEvent }

type TransactionCompleted struct {
	BaseEvent

	TransactionID     string `json:"transaction_id"`
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference,omitempty"`
	RetryCount        int    `json:"retry_count"`
}

func (e TransactionCompleted) GetType() EventType { return TransactionCompletedEvent }

type TransactionFailed struct {
	BaseEvent

	TransactionID string     `json:"transaction_id"`
	Reference     string     `json:"reference"`
	RetryCount    int        `json:"retry_count"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	Error         string     `json:"error"`
}

func (e TransactionFailed) GetType() EventType { return TransactionFailedEvent }

type TransactionExhausted struct {
	BaseEvent

	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	RetryCount    int    `json:"retry_count"`
	Error         string `json:"error"`
}

func (e TransactionExhausted) GetType() EventType { return TransactionExhaustedEvent }

type TransactionReversed struct {
	BaseEvent

	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	ReversalID    string `json:"reversal_id"`
	Reason        string `json:"reason"`
}

func (e TransactionReversed) GetType() EventType { return TransactionReversedEvent }
