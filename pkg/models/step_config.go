package models

import (
	"encoding/json"
	"fmt"
)

// DeclineAction says what a declined confirmation does to the execution.
type DeclineAction string

const (
	DeclineActionCancel       DeclineAction = "CANCEL"
	DeclineActionPreviousStep DeclineAction = "PREVIOUS_STEP"
)

// Step config variants. Step configs are stored as JSON documents; each step
// type decodes into its own typed payload so call sites never walk raw maps.
// String fields may contain {{dotted.path}} placeholders resolved against the
// execution context at run time.

type FormConfig struct {
	FormID     string `json:"form_id"`
	Title      string `json:"title,omitempty"`
	SubmitText string `json:"submit_text,omitempty"`
}

type APICallConfig struct {
	// ParameterMapping binds named call parameters to context paths.
	ParameterMapping map[string]string `json:"parameter_mapping,omitempty"`
	ResultKey        string            `json:"result_key,omitempty"`
}

type ValidationConfig struct {
	ParameterMapping map[string]string `json:"parameter_mapping,omitempty"`
	FailureMessage   string            `json:"failure_message,omitempty"`
}

type ConfirmationConfig struct {
	Message       string        `json:"message"`
	ConfirmLabel  string        `json:"confirm_label,omitempty"`
	DeclineLabel  string        `json:"decline_label,omitempty"`
	DeclineAction DeclineAction `json:"decline_action"`
}

type DisplayConfig struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type RedirectConfig struct {
	Target string `json:"target"`
}

type OTPConfig struct {
	Channel     string `json:"channel,omitempty"` // sms, email, push
	Destination string `json:"destination,omitempty"`
	CodeLength  int    `json:"code_length,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type PostTransactionConfig struct {
	TransactionType  string            `json:"transaction_type"`
	ParameterMapping map[string]string `json:"parameter_mapping"`
	MaxRetries       int               `json:"max_retries,omitempty"`
}

// DecodeConfig decodes the step's raw config document into the typed variant
// for its step type. The returned value is one of the *Config structs above.
func (s *WorkflowStep) DecodeConfig() (any, error) {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config for step %s: %w", s.ID, err)
	}

	var target any

	switch s.Type {
	case StepTypeForm:
		target = &FormConfig{}
	case StepTypeAPICall:
		target = &APICallConfig{}
	case StepTypeValidation:
		target = &ValidationConfig{}
	case StepTypeConfirmation:
		target = &ConfirmationConfig{}
	case StepTypeDisplay:
		target = &DisplayConfig{}
	case StepTypeRedirect:
		target = &RedirectConfig{}
	case StepTypeOTP:
		target = &OTPConfig{}
	case StepTypePostTransaction:
		target = &PostTransactionConfig{}
	default:
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s config for step %s: %w", s.Type, s.ID, err)
	}

	return target, nil
}

// ConfirmationConfig decodes the step config as a confirmation payload.
func (s *WorkflowStep) ConfirmationConfig() (*ConfirmationConfig, error) {
	cfg, err := s.DecodeConfig()
	if err != nil {
		return nil, err
	}

	confirmation, ok := cfg.(*ConfirmationConfig)
	if !ok {
		return nil, fmt.Errorf("step %s is not a confirmation step", s.ID)
	}

	return confirmation, nil
}

// PostTransactionConfig decodes the step config as a post-transaction payload.
func (s *WorkflowStep) PostTransactionConfig() (*PostTransactionConfig, error) {
	cfg, err := s.DecodeConfig()
	if err != nil {
		return nil, err
	}

	post, ok := cfg.(*PostTransactionConfig)
	if !ok {
		return nil, fmt.Errorf("step %s is not a post-transaction step", s.ID)
	}

	return post, nil
}

// ParameterMapping returns the context bindings for adapter-bound steps, or
// nil when the step type carries none.
func (s *WorkflowStep) ParameterMapping() (map[string]string, error) {
	cfg, err := s.DecodeConfig()
	if err != nil {
		return nil, err
	}

	switch c := cfg.(type) {
	case *APICallConfig:
		return c.ParameterMapping, nil
	case *ValidationConfig:
		return c.ParameterMapping, nil
	case *PostTransactionConfig:
		return c.ParameterMapping, nil
	default:
		return nil, nil
	}
}
