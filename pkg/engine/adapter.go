package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/template"
	"github.com/mufaro/bankflow/pkg/transactions"
)

// invokeAdapter resolves the step's parameter mapping against the execution
// context and calls the external-service adapter for the step's trigger
// endpoint. The call is bounded by the step's timeout.
func (e *Engine) invokeAdapter(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
) (any, error) {
	params, err := e.resolveParameters(execution, step, input)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, step.Timeout(defaultStepTimeout))
	defer cancel()

	result, err := e.services.Invoke(callCtx, "", step.TriggerEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s failed: %w", step.TriggerEndpoint, err)
	}

	if result.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint %s rejected the call: %s",
			step.TriggerEndpoint, adapterErrorMessage(result.Body, result.StatusCode))
	}

	if success, ok := result.Body["success"].(bool); ok && !success {
		return nil, fmt.Errorf("endpoint %s reported failure: %s",
			step.TriggerEndpoint, adapterErrorMessage(result.Body, result.StatusCode))
	}

	return result.Body, nil
}

// executePostTransaction creates a transaction from the step's resolved
// parameter mapping and submits it synchronously. The step succeeds only
// when the ledger accepted the submission; a transaction left FAILED keeps
// retrying in the background but does not advance the workflow.
func (e *Engine) executePostTransaction(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
) (any, error) {
	config, err := step.PostTransactionConfig()
	if err != nil {
		return nil, err
	}

	params, err := e.resolveParameters(execution, step, input)
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(params["amount"])
	if err != nil {
		return nil, err
	}

	reference, _ := params["reference"].(string)
	if reference == "" {
		reference = newTransactionReference()
	}

	createInput := transactions.CreateInput{
		Reference:  reference,
		Type:       models.TransactionType(config.TransactionType),
		Amount:     amount,
		Currency:   stringParam(params, "currency"),
		FromRef:    stringParam(params, "from_ref"),
		ToRef:      stringParam(params, "to_ref"),
		Source:     execution.ID,
		MaxRetries: config.MaxRetries,
	}

	transaction, err := e.txns.Create(ctx, createInput)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, step.Timeout(defaultStepTimeout))
	defer cancel()

	transaction, err = e.txns.Submit(callCtx, transaction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transaction %s: %w", reference, err)
	}

	result := map[string]any{
		"transaction_id": transaction.ID,
		"reference":      transaction.Reference,
		"status":         string(transaction.Status),
	}

	if transaction.ExternalReference != "" {
		result["external_reference"] = transaction.ExternalReference
	}

	if transaction.Status != models.TransactionStatusCompleted {
		message := transaction.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("transaction %s is %s", transaction.Reference, transaction.Status)
		}

		return nil, fmt.Errorf("transaction %s not completed: %s", transaction.Reference, message)
	}

	return result, nil
}

// resolveParameters binds the step's declared parameters to context paths.
// An unresolved reference is an authoring bug and is surfaced verbatim.
func (e *Engine) resolveParameters(
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	input map[string]any,
) (map[string]any, error) {
	mapping, err := step.ParameterMapping()
	if err != nil {
		return nil, err
	}

	resolver := template.NewResolver(execution.Context, input)
	params := make(map[string]any, len(mapping))

	for name, path := range mapping {
		value, err := resolver.Resolve(path)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		params[name] = value
	}

	return params, nil
}

func adapterErrorMessage(body map[string]any, statusCode int) string {
	for _, key := range []string{"error", "message"} {
		if message, ok := body[key].(string); ok && message != "" {
			return message
		}
	}

	return fmt.Sprintf("status %d", statusCode)
}

func parseAmount(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		amount, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q is not numeric: %w", v, err)
		}

		return amount, nil
	default:
		return 0, fmt.Errorf("missing or invalid amount parameter (%T)", value)
	}
}

func stringParam(params map[string]any, key string) string {
	if value, ok := params[key]; ok {
		return fmt.Sprintf("%v", value)
	}

	return ""
}

func newTransactionReference() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return "TXN-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}
