package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSON schemas for step config documents, checked when a workflow is saved so
// malformed configs are rejected at authoring time instead of mid-session.
var stepConfigSchemas = map[StepType]map[string]any{
	StepTypeForm: {
		"type":                 "object",
		"required":             []string{"form_id"},
		"additionalProperties": true,
		"properties": map[string]any{
			"form_id":     map[string]any{"type": "string", "minLength": 1},
			"title":       map[string]any{"type": "string"},
			"submit_text": map[string]any{"type": "string"},
		},
	},
	StepTypeAPICall: {
		"type": "object",
		"properties": map[string]any{
			"parameter_mapping": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"result_key": map[string]any{"type": "string"},
		},
	},
	StepTypeValidation: {
		"type": "object",
		"properties": map[string]any{
			"parameter_mapping": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"failure_message": map[string]any{"type": "string"},
		},
	},
	StepTypeConfirmation: {
		"type":     "object",
		"required": []string{"message", "decline_action"},
		"properties": map[string]any{
			"message":        map[string]any{"type": "string", "minLength": 1},
			"confirm_label":  map[string]any{"type": "string"},
			"decline_label":  map[string]any{"type": "string"},
			"decline_action": map[string]any{"enum": []string{"CANCEL", "PREVIOUS_STEP"}},
		},
	},
	StepTypeDisplay: {
		"type":     "object",
		"required": []string{"body"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"body":  map[string]any{"type": "string", "minLength": 1},
		},
	},
	StepTypeRedirect: {
		"type":     "object",
		"required": []string{"target"},
		"properties": map[string]any{
			"target": map[string]any{"type": "string", "minLength": 1},
		},
	},
	StepTypeOTP: {
		"type": "object",
		"properties": map[string]any{
			"channel":      map[string]any{"enum": []string{"sms", "email", "push"}},
			"destination":  map[string]any{"type": "string"},
			"code_length":  map[string]any{"type": "integer", "minimum": 4, "maximum": 10},
			"max_attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
		},
	},
	StepTypePostTransaction: {
		"type":     "object",
		"required": []string{"transaction_type", "parameter_mapping"},
		"properties": map[string]any{
			"transaction_type": map[string]any{"type": "string", "minLength": 1},
			"parameter_mapping": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"max_retries": map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
		},
	},
}

// ValidateStepConfig validates a step's config document against the schema for
// its type.
func ValidateStepConfig(step *WorkflowStep) error {
	schema, ok := stepConfigSchemas[step.Type]
	if !ok {
		return fmt.Errorf("no config schema registered for step type %q", step.Type)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(step.Config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config for step %s: %w", step.ID, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid %s config for step %s: %s", step.Type, step.ID, strings.Join(details, "; "))
	}

	return nil
}
