package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfSequence is returned when a step call targets anything other
	// than the execution's current step, or an AFTER_STEP arrives before a
	// required BEFORE_STEP succeeded.
	ErrOutOfSequence = errors.New("step called out of sequence")

	// ErrTerminalState is returned when an operation targets an execution
	// that is already COMPLETED, FAILED or CANCELLED.
	ErrTerminalState = errors.New("execution is in a terminal state")

	// ErrWorkflowInactive is returned when starting an execution on a
	// deactivated workflow.
	ErrWorkflowInactive = errors.New("workflow is not active")

	// ErrNoActiveSteps is returned when a workflow has no active steps to
	// execute.
	ErrNoActiveSteps = errors.New("workflow has no active steps")

	// ErrNotReadyToComplete is returned when complete is called before the
	// last active step has succeeded.
	ErrNotReadyToComplete = errors.New("execution is not ready to complete")

	// ErrInvalidTiming is returned when the timing argument is not
	// BEFORE_STEP or AFTER_STEP.
	ErrInvalidTiming = errors.New("invalid trigger timing")

	// ErrAttemptsExhausted is returned when a step's server-call attempt
	// bound has been used up (OTP resend/validate caps).
	ErrAttemptsExhausted = errors.New("step attempt budget exhausted")
)

// SequenceError carries the step the client called against the step the
// execution expected.
type SequenceError struct {
	ExecutionID string
	RequestedID string
	CurrentID   string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("execution %s: step %s requested but current step is %s",
		e.ExecutionID, e.RequestedID, e.CurrentID)
}

func (e *SequenceError) Unwrap() error {
	return ErrOutOfSequence
}

// IsOutOfSequence checks whether the error is an out-of-sequence rejection.
func IsOutOfSequence(err error) bool {
	return errors.Is(err, ErrOutOfSequence)
}

// IsTerminalState checks whether the error is a terminal state violation.
func IsTerminalState(err error) bool {
	return errors.Is(err, ErrTerminalState)
}
