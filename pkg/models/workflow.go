// Package models defines the core domain models for banking screen-flow workflows.
package models

import (
	"fmt"
	"time"
)

// Workflow is an ordered screen flow definition. Published definitions are
// immutable; edits produce a new version.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Version     int             `json:"version"`
	IsActive    bool            `json:"is_active"`
	Steps       []*WorkflowStep `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ActiveSteps returns the enabled steps in execution order.
func (w *Workflow) ActiveSteps() []*WorkflowStep {
	active := make([]*WorkflowStep, 0, len(w.Steps))

	for _, step := range w.Steps {
		if step.IsActive {
			active = append(active, step)
		}
	}

	return active
}

// StepByID returns the step with the given ID, or nil.
func (w *Workflow) StepByID(id string) *WorkflowStep {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// Validate checks the structural invariants of a workflow definition:
// step order values are unique and dense (0..n-1), and trigger timing is
// present exactly when the execution mode requires a server call.
func (w *Workflow) Validate() error {
	seen := make(map[int]string, len(w.Steps))

	for _, step := range w.Steps {
		if other, ok := seen[step.Order]; ok {
			return fmt.Errorf("steps %s and %s share order %d", other, step.ID, step.Order)
		}

		seen[step.Order] = step.ID

		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	for i := range w.Steps {
		if _, ok := seen[i]; !ok {
			return fmt.Errorf("step order values are not dense: missing order %d", i)
		}
	}

	return nil
}
