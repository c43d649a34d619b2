package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkflow is returned when a workflow definition violates a
	// structural invariant.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrWorkflowHasExecutions is returned when deactivation rules forbid
	// an operation.
	ErrWorkflowInUse = errors.New("workflow is in use")
)

// ValidationError carries the offending field or step alongside the cause.
type ValidationError struct {
	Subject string
	Detail  string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(subject, detail string, err error) *ValidationError {
	return &ValidationError{Subject: subject, Detail: detail, Err: err}
}

// IsValidationError checks whether the error is a workflow validation error.
func IsValidationError(err error) bool {
	var target *ValidationError

	return errors.As(err, &target) || errors.Is(err, ErrInvalidWorkflow)
}
