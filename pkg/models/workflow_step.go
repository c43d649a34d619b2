package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType identifies what a workflow step presents or performs.
type StepType string

const (
	StepTypeForm            StepType = "FORM"
	StepTypeAPICall         StepType = "API_CALL"
	StepTypeValidation      StepType = "VALIDATION"
	StepTypeConfirmation    StepType = "CONFIRMATION"
	StepTypeDisplay         StepType = "DISPLAY"
	StepTypeRedirect        StepType = "REDIRECT"
	StepTypeOTP             StepType = "OTP"
	StepTypePostTransaction StepType = "POST_TRANSACTION"
)

// ExecutionMode says where a step's work happens.
type ExecutionMode string

const (
	ExecutionModeClientOnly       ExecutionMode = "CLIENT_ONLY"
	ExecutionModeServerSync       ExecutionMode = "SERVER_SYNC"
	ExecutionModeServerAsync      ExecutionMode = "SERVER_ASYNC"
	ExecutionModeServerValidation ExecutionMode = "SERVER_VALIDATION"
)

// TriggerTiming says when the server call of a step runs relative to user input.
type TriggerTiming string

const (
	TriggerTimingBeforeStep TriggerTiming = "BEFORE_STEP"
	TriggerTimingAfterStep  TriggerTiming = "AFTER_STEP"
	TriggerTimingBoth       TriggerTiming = "BOTH"
)

// StepRetryConfig bounds server-call attempts for a single step.
type StepRetryConfig struct {
	MaxRetries     int `json:"max_retries"`
	InitialDelayMs int `json:"initial_delay_ms"`
}

// WorkflowStep is one unit of a workflow's screen flow.
type WorkflowStep struct {
	ID              string           `json:"id"`
	WorkflowID      string           `json:"workflow_id"`
	Type            StepType         `json:"type"           validate:"required"`
	Order           int              `json:"order"`
	Label           string           `json:"label"          validate:"required"`
	Config          map[string]any   `json:"config"`
	ValidationRules []FieldRule      `json:"validation_rules,omitempty"`
	ExecutionMode   ExecutionMode    `json:"execution_mode" validate:"required"`
	TriggerTiming   TriggerTiming    `json:"trigger_timing,omitempty"`
	TriggerEndpoint string           `json:"trigger_endpoint,omitempty"`
	TimeoutMs       int              `json:"timeout_ms,omitempty"`
	RetryConfig     *StepRetryConfig `json:"retry_config,omitempty"`
	IsActive        bool             `json:"is_active"`
}

// Timeout returns the step's adapter timeout, or the given default when unset.
func (s *WorkflowStep) Timeout(def time.Duration) time.Duration {
	if s.TimeoutMs <= 0 {
		return def
	}

	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// defaultOTPAttempts caps OTP resend/validate attempts when the step does
// not configure its own bound.
const defaultOTPAttempts = 5

// MaxAttempts returns the step's server-call attempt bound. Zero means
// unbounded; OTP steps always carry a bound.
func (s *WorkflowStep) MaxAttempts() int {
	if s.RetryConfig != nil && s.RetryConfig.MaxRetries > 0 {
		return s.RetryConfig.MaxRetries
	}

	if s.Type == StepTypeOTP {
		return defaultOTPAttempts
	}

	return 0
}

// RequiresServerCall reports whether executing this step involves the
// external-service adapter.
func (s *WorkflowStep) RequiresServerCall() bool {
	return s.ExecutionMode != ExecutionModeClientOnly
}

// RunsAt reports whether the step's server call fires at the given timing.
func (s *WorkflowStep) RunsAt(timing TriggerTiming) bool {
	if !s.RequiresServerCall() {
		return false
	}

	return s.TriggerTiming == timing || s.TriggerTiming == TriggerTimingBoth
}

// Validate checks the per-step invariants: a CLIENT_ONLY step carries no
// trigger timing, every other mode requires one.
func (s *WorkflowStep) Validate() error {
	switch s.ExecutionMode {
	case ExecutionModeClientOnly:
		if s.TriggerTiming != "" {
			return fmt.Errorf("client-only step declares trigger timing %q", s.TriggerTiming)
		}
	case ExecutionModeServerSync, ExecutionModeServerAsync, ExecutionModeServerValidation:
		if s.TriggerTiming == "" {
			return errors.New("server-bound step requires a trigger timing")
		}
	default:
		return fmt.Errorf("unknown execution mode %q", s.ExecutionMode)
	}

	if s.Type == StepTypeOTP && s.TriggerTiming != TriggerTimingBoth {
		return errors.New("OTP steps must trigger at both timings")
	}

	return nil
}
