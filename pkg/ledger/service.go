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
	"net/url"
	"strings"
)

// HTTPServiceAdapter invokes downstream service endpoints over HTTP.
// Endpoints are given relative to the service base URL; absolute URLs are
// passed through unchanged.
type HTTPServiceAdapter struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPServiceAdapter creates a service adapter from configuration.
func NewHTTPServiceAdapter(config map[string]any, logger *slog.Logger) (*HTTPServiceAdapter, error) {
	baseURL, _ := config["base_url"].(string)

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

	return &HTTPServiceAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  &http.Client{},
		logger:  logger.With("module", "service_adapter"),
	}, nil
}

// Invoke calls the endpoint and returns the decoded response. GET requests
// send params as query parameters; every other method sends them as a JSON
// body. Per-step timeouts arrive through the context deadline.
func (a *HTTPServiceAdapter) Invoke(
	ctx context.Context,
	method, endpoint string,
	params map[string]any,
) (*ServiceResult, error) {
	if method == "" {
		method = http.MethodPost
	}

	method = strings.ToUpper(method)

	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = a.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}

	req, err := a.buildRequest(ctx, method, target, params)
	if err != nil {
		return nil, err
	}

	for key, value := range a.headers {
		req.Header.Set(key, value)
	}

	a.logger.DebugContext(ctx, "Invoking service endpoint", "method", method, "endpoint", endpoint)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint, ErrAdapterTimeout)
		}

		return nil, fmt.Errorf("endpoint %s: %w: %v", endpoint, ErrAdapterUnavailable, err)
	}

	return a.decodeResponse(ctx, resp)
}

func (a *HTTPServiceAdapter) buildRequest(
	ctx context.Context,
	method, target string,
	params map[string]any,
) (*http.Request, error) {
	if method == http.MethodGet {
		parsed, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint URL %s: %w", target, err)
		}

		query := parsed.Query()
		for key, value := range params {
			query.Set(key, fmt.Sprintf("%v", value))
		}

		parsed.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, method, parsed.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create service request: %w", err)
		}

		return req, nil
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create service request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

func (a *HTTPServiceAdapter) decodeResponse(ctx context.Context, resp *http.Response) (*ServiceResult, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read service response body: %w", err)
	}

	var body map[string]any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = map[string]any{"raw": string(bodyBytes)}

		a.logger.WarnContext(ctx, "Failed to parse service response as JSON", "error", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("endpoint returned status %d: %w", resp.StatusCode, ErrAdapterUnavailable)
	}

	return &ServiceResult{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
