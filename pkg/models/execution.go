package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "PENDING"
	ExecutionStatusInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionStatusCompleted  ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed     ExecutionStatus = "FAILED"
	ExecutionStatusCancelled  ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the execution can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StepResult is what one step execution recorded into the context.
type StepResult struct {
	StepID     string         `json:"step_id"`
	Success    bool           `json:"success"`
	Input      map[string]any `json:"input,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ExecutionContext is the accumulated state of one execution. Results are
// keyed canonically by step ID; step_<order> aliases are assigned when the
// execution starts so templates can address earlier steps by position.
type ExecutionContext struct {
	Results map[string]*StepResult `json:"results"`
	Aliases map[string]string      `json:"aliases"` // alias -> step ID
	Order   []string               `json:"order"`   // step IDs in recording order

	// BeforeDone marks steps whose BEFORE_STEP call succeeded, gating the
	// AFTER_STEP call for steps that trigger at both timings.
	BeforeDone map[string]bool `json:"before_done,omitempty"`

	// Attempts counts server calls per step, bounded by the step's retry
	// config (OTP resend/validate caps).
	Attempts map[string]int `json:"attempts,omitempty"`
}

// NewExecutionContext builds an empty context with order aliases for the
// given steps.
func NewExecutionContext(steps []*WorkflowStep) *ExecutionContext {
	aliases := make(map[string]string, len(steps))
	for _, step := range steps {
		aliases[fmt.Sprintf("step_%d", step.Order)] = step.ID
	}

	return &ExecutionContext{
		Results:    make(map[string]*StepResult),
		Aliases:    aliases,
		BeforeDone: make(map[string]bool),
		Attempts:   make(map[string]int),
	}
}

// CountAttempt increments and returns the step's server-call attempt count.
func (c *ExecutionContext) CountAttempt(stepID string) int {
	if c.Attempts == nil {
		c.Attempts = make(map[string]int)
	}

	c.Attempts[stepID]++

	return c.Attempts[stepID]
}

// MarkBefore records a successful BEFORE_STEP call for a step.
func (c *ExecutionContext) MarkBefore(stepID string) {
	if c.BeforeDone == nil {
		c.BeforeDone = make(map[string]bool)
	}

	c.BeforeDone[stepID] = true
}

// Record stores a step result under its canonical key. Re-recording the same
// step replaces the entry (a user retrying a failed step) without disturbing
// the recording order of other steps.
func (c *ExecutionContext) Record(result *StepResult) {
	if _, exists := c.Results[result.StepID]; !exists {
		c.Order = append(c.Order, result.StepID)
	}

	c.Results[result.StepID] = result
}

// Lookup resolves a step key, following order aliases, and returns the
// recorded result.
func (c *ExecutionContext) Lookup(key string) (*StepResult, bool) {
	if id, ok := c.Aliases[key]; ok {
		key = id
	}

	result, ok := c.Results[key]

	return result, ok
}

// Snapshot returns the context as a plain document keyed by step ID, in
// recording order, suitable as a final result.
func (c *ExecutionContext) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(c.Order))

	for _, stepID := range c.Order {
		result := c.Results[stepID]
		snapshot[stepID] = map[string]any{
			"success": result.Success,
			"input":   result.Input,
			"result":  result.Result,
			"error":   result.Error,
		}
	}

	return snapshot
}

// WorkflowExecution is one user's live traversal of a workflow.
type WorkflowExecution struct {
	ID            string            `json:"id"`
	WorkflowID    string            `json:"workflow_id"`
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id"`
	CurrentStepID string            `json:"current_step_id"`
	Status        ExecutionStatus   `json:"status"`
	Context       *ExecutionContext `json:"context"`
	FinalResult   map[string]any    `json:"final_result,omitempty"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
