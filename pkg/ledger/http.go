package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mufaro/bankflow/pkg/models"
)

const defaultTimeoutSeconds = 30

// HTTPAdapter submits transactions to a ledger system over HTTP. The
// transaction reference travels as an Idempotency-Key header so a retried
// submission the ledger already applied is recognized, not double-applied.
type HTTPAdapter struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPAdapter creates an HTTP ledger adapter from configuration.
func NewHTTPAdapter(config map[string]any, logger *slog.Logger) (*HTTPAdapter, error) {
	baseURL, ok := config["base_url"].(string)
	if !ok || baseURL == "" {
		return nil, errors.New("missing or invalid 'base_url' in ledger configuration")
	}

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &HTTPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "ledger_http_adapter"),
	}, nil
}

type submitPayload struct {
	Reference  string  `json:"reference"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	FromRef    string  `json:"from_ref,omitempty"`
	ToRef      string  `json:"to_ref,omitempty"`
	IsReversal bool    `json:"is_reversal,omitempty"`
	ReversalOf string  `json:"reversal_of,omitempty"`
}

// SubmitTransaction posts the transaction to the ledger and classifies the
// outcome. Transport failures and 5xx responses are retryable; 4xx
// responses mean the ledger rejected the transaction for good.
func (a *HTTPAdapter) SubmitTransaction(ctx context.Context, transaction *models.Transaction) (*SubmitResult, error) {
	payload := submitPayload{
		Reference:  transaction.Reference,
		Type:       string(transaction.Type),
		Amount:     transaction.Amount,
		Currency:   transaction.Currency,
		FromRef:    transaction.FromRef,
		ToRef:      transaction.ToRef,
		IsReversal: transaction.IsReversal,
		ReversalOf: transaction.ReversalOf,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger payload: %w", err)
	}

	url := a.baseURL + "/transactions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", transaction.Reference)

	for key, value := range a.headers {
		req.Header.Set(key, value)
	}

	a.logger.InfoContext(ctx, "Submitting transaction to ledger",
		"reference", transaction.Reference,
		"type", transaction.Type,
	)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &SubmitResult{
				Retryable:    true,
				ErrorMessage: ErrAdapterTimeout.Error(),
			}, nil
		}

		return &SubmitResult{
			Retryable:    true,
			ErrorMessage: fmt.Sprintf("ledger request failed: %v", err),
		}, nil
	}

	return a.classifyResponse(ctx, resp)
}

func (a *HTTPAdapter) classifyResponse(ctx context.Context, resp *http.Response) (*SubmitResult, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response body: %w", err)
	}

	var body map[string]any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = map[string]any{"raw": string(bodyBytes)}

		a.logger.WarnContext(ctx, "Failed to parse ledger response as JSON", "error", err)
	}

	result := &SubmitResult{RawResponse: body}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Accepted = true
		result.ExternalReference = stringField(body, "external_reference")
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		result.Retryable = true
		result.ErrorMessage = responseError(body, resp.StatusCode)
	default:
		result.ErrorMessage = responseError(body, resp.StatusCode)
	}

	a.logger.InfoContext(ctx, "Ledger responded",
		"status_code", resp.StatusCode,
		"accepted", result.Accepted,
		"retryable", result.Retryable,
	)

	return result, nil
}

func stringField(body map[string]any, key string) string {
	value, _ := body[key].(string)

	return value
}

func responseError(body map[string]any, statusCode int) string {
	if message := stringField(body, "error"); message != "" {
		return message
	}

	if message := stringField(body, "message"); message != "" {
		return message
	}

	return fmt.Sprintf("ledger returned status %d", statusCode)
}
