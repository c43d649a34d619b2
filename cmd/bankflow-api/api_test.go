package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/locks"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence/file"
)

type stubLedger struct {
	result *ledger.SubmitResult
}

func (s *stubLedger) SubmitTransaction(_ context.Context, _ *models.Transaction) (*ledger.SubmitResult, error) {
	if s.result != nil {
		return s.result, nil
	}

	return &ledger.SubmitResult{Accepted: true, ExternalReference: "LEDGER-API-1"}, nil
}

type stubServices struct{}

func (stubServices) Invoke(_ context.Context, _, _ string, _ map[string]any) (*ledger.ServiceResult, error) {
	return &ledger.ServiceResult{StatusCode: 200, Body: map[string]any{"success": true}}, nil
}

func setupTestApp(tempDir string) *fiber.App {
	persistence := file.NewPersistence(tempDir)

	api := NewAPI(
		slog.Default(),
		persistence,
		nil,
		&stubLedger{},
		stubServices{},
		locks.NewLocalLocker(),
	)

	return api.App()
}

func closeBody(t *testing.T, resp *http.Response) {
	t.Helper()

	err := resp.Body.Close()
	if err != nil {
		t.Logf("Failed to close response body: %v", err)
	}
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var body map[string]any

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

const sendMoneyWorkflowJSON = `{
	"name": "Send Money",
	"is_active": true,
	"steps": [
		{
			"id": "amount-form",
			"type": "FORM",
			"order": 0,
			"label": "Amount",
			"execution_mode": "CLIENT_ONLY",
			"is_active": true,
			"config": {"form_id": "transfer-amount"}
		},
		{
			"id": "post",
			"type": "POST_TRANSACTION",
			"order": 1,
			"label": "Post",
			"execution_mode": "SERVER_SYNC",
			"trigger_timing": "AFTER_STEP",
			"is_active": true,
			"config": {
				"transaction_type": "DEBIT",
				"parameter_mapping": {
					"amount": "{{amount-form.amount}}",
					"currency": "{{amount-form.currency}}",
					"from_ref": "{{amount-form.from_account}}"
				}
			}
		}
	]
}`

func createWorkflow(t *testing.T, app *fiber.App) string {
	t.Helper()

	resp := postJSON(t, app, "/workflows", sendMoneyWorkflowJSON)
	defer closeBody(t, resp)

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeJSON(t, resp)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	return id
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Bankflow API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CreateWorkflow_Invalid(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/workflows", `{"name": "x"}`)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateWorkflow_RejectsBadStepTiming(t *testing.T) {
	app := setupTestApp(t.TempDir())

	// A CLIENT_ONLY step must not declare a trigger timing.
	resp := postJSON(t, app, "/workflows", `{
		"name": "Broken Flow",
		"is_active": true,
		"steps": [
			{
				"id": "s1",
				"type": "FORM",
				"order": 0,
				"label": "Form",
				"execution_mode": "CLIENT_ONLY",
				"trigger_timing": "AFTER_STEP",
				"is_active": true
			}
		]
	}`)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetWorkflow(t *testing.T) {
	app := setupTestApp(t.TempDir())
	id := createWorkflow(t, app)

	req := httptest.NewRequest(http.MethodGet, "/workflows/"+id, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "Send Money", body["name"])
	assert.Equal(t, float64(1), body["version"])
}

func TestAPI_GetWorkflow_NotFound(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ExecutionLifecycle(t *testing.T) {
	app := setupTestApp(t.TempDir())
	workflowID := createWorkflow(t, app)

	resp := postJSON(t, app, "/executions", `{
		"workflow_id": "`+workflowID+`",
		"user_id": "user-1",
		"session_id": "session-1"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	started := decodeJSON(t, resp)
	closeBody(t, resp)

	execution, ok := started["execution"].(map[string]any)
	require.True(t, ok)

	executionID, _ := execution["id"].(string)
	require.NotEmpty(t, executionID)

	steps, ok := started["steps"].([]any)
	require.True(t, ok)
	require.Len(t, steps, 2)

	firstStep, ok := steps[0].(map[string]any)
	require.True(t, ok)

	formStepID, _ := firstStep["id"].(string)
	require.NotEmpty(t, formStepID)

	resp = postJSON(t, app, "/executions/"+executionID+"/steps/"+formStepID, `{
		"timing": "AFTER_STEP",
		"input": {"amount": "100", "currency": "USD", "from_account": "ACC-1"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	outcome := decodeJSON(t, resp)
	closeBody(t, resp)
	require.Equal(t, true, outcome["should_proceed"])

	secondStep, ok := steps[1].(map[string]any)
	require.True(t, ok)

	postStepID, _ := secondStep["id"].(string)

	resp = postJSON(t, app, "/executions/"+executionID+"/steps/"+postStepID, `{"timing": "AFTER_STEP"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	outcome = decodeJSON(t, resp)
	closeBody(t, resp)
	require.Equal(t, true, outcome["success"], outcome["error"])

	resp = postJSON(t, app, "/executions/"+executionID+"/complete", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	completed := decodeJSON(t, resp)
	closeBody(t, resp)
	assert.Equal(t, true, completed["success"])
	assert.Equal(t, string(models.ExecutionStatusCompleted), completed["status"])

	// The session no longer has an active execution.
	req := httptest.NewRequest(http.MethodGet, "/sessions/session-1/execution", nil)
	sessionResp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, sessionResp)
	assert.Equal(t, http.StatusNotFound, sessionResp.StatusCode)
}

func TestAPI_ExecuteStep_OutOfSequenceConflict(t *testing.T) {
	app := setupTestApp(t.TempDir())
	workflowID := createWorkflow(t, app)

	resp := postJSON(t, app, "/executions", `{
		"workflow_id": "`+workflowID+`",
		"user_id": "user-1",
		"session_id": "session-2"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	started := decodeJSON(t, resp)
	closeBody(t, resp)

	execution := started["execution"].(map[string]any)
	executionID := execution["id"].(string)

	steps := started["steps"].([]any)
	lastStep := steps[1].(map[string]any)
	lastStepID := lastStep["id"].(string)

	resp = postJSON(t, app, "/executions/"+executionID+"/steps/"+lastStepID, `{"timing": "AFTER_STEP"}`)
	defer closeBody(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_CancelExecution(t *testing.T) {
	app := setupTestApp(t.TempDir())
	workflowID := createWorkflow(t, app)

	resp := postJSON(t, app, "/executions", `{
		"workflow_id": "`+workflowID+`",
		"user_id": "user-1",
		"session_id": "session-3"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	started := decodeJSON(t, resp)
	closeBody(t, resp)

	execution := started["execution"].(map[string]any)
	executionID := execution["id"].(string)

	resp = postJSON(t, app, "/executions/"+executionID+"/cancel", `{"reason": "changed my mind"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancelled := decodeJSON(t, resp)
	closeBody(t, resp)
	assert.Equal(t, string(models.ExecutionStatusCancelled), cancelled["status"])

	// Cancelling a terminal execution conflicts.
	resp = postJSON(t, app, "/executions/"+executionID+"/cancel", `{"reason": "again"}`)
	defer closeBody(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_TransactionLifecycle(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/transactions", `{
		"reference": "TXN-API-1",
		"type": "DEBIT",
		"amount": 99.5,
		"currency": "USD",
		"from_ref": "ACC-1",
		"submit": true
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeJSON(t, resp)
	closeBody(t, resp)
	require.Equal(t, true, created["success"])

	transaction := created["transaction"].(map[string]any)
	assert.Equal(t, string(models.TransactionStatusCompleted), transaction["status"])
	assert.Equal(t, "LEDGER-API-1", transaction["external_reference"])

	transactionID := transaction["id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+transactionID+"/history", nil)
	historyResp, err := app.Test(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, historyResp.StatusCode)

	historyBody := decodeJSON(t, historyResp)
	closeBody(t, historyResp)

	history := historyBody["history"].([]any)
	assert.Len(t, history, 3) // PENDING, PROCESSING, COMPLETED

	req = httptest.NewRequest(http.MethodGet, "/transactions/reference/TXN-API-1", nil)
	refResp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, refResp)
	assert.Equal(t, http.StatusOK, refResp.StatusCode)
}

func TestAPI_CreateTransaction_ValidationError(t *testing.T) {
	app := setupTestApp(t.TempDir())

	resp := postJSON(t, app, "/transactions", `{
		"reference": "TXN-API-2",
		"type": "GIFT",
		"amount": -1,
		"currency": "USDX"
	}`)
	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RetryStats(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/transactions/stats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeJSON(t, resp)
	assert.Equal(t, float64(0), stats["total_failed"])
}

func TestAPI_HealthEndpoint(t *testing.T) {
	app := setupTestApp(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer closeBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "healthy", body["status"])
}
