package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mufaro/bankflow/pkg/ledger"
	"github.com/mufaro/bankflow/pkg/locks"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
	"github.com/mufaro/bankflow/pkg/persistence/file"
	"github.com/mufaro/bankflow/pkg/transactions"
)

type serviceCall struct {
	Endpoint string
	Params   map[string]any
}

// fakeServices records every adapter call and answers from a per-endpoint
// response table.
type fakeServices struct {
	mu        sync.Mutex
	calls     []serviceCall
	responses map[string]*ledger.ServiceResult
	err       error
}

func (f *fakeServices) Invoke(_ context.Context, _ string, endpoint string, params map[string]any) (*ledger.ServiceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, serviceCall{Endpoint: endpoint, Params: params})

	if f.err != nil {
		return nil, f.err
	}

	if response, ok := f.responses[endpoint]; ok {
		return response, nil
	}

	return &ledger.ServiceResult{StatusCode: 200, Body: map[string]any{"success": true}}, nil
}

type acceptingLedger struct{}

func (acceptingLedger) SubmitTransaction(_ context.Context, _ *models.Transaction) (*ledger.SubmitResult, error) {
	return &ledger.SubmitResult{Accepted: true, ExternalReference: "LEDGER-REF-1"}, nil
}

type rejectingLedger struct{}

func (rejectingLedger) SubmitTransaction(_ context.Context, _ *models.Transaction) (*ledger.SubmitResult, error) {
	return &ledger.SubmitResult{Retryable: true, ErrorMessage: "ledger unavailable"}, nil
}

type engineFixture struct {
	engine   *Engine
	services *fakeServices
	store    *file.Persistence
}

func newFixture(t *testing.T, adapter ledger.Adapter) *engineFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	services := &fakeServices{responses: map[string]*ledger.ServiceResult{}}
	logger := slog.Default()

	txns := transactions.NewService(
		store.TransactionRepository(),
		adapter,
		locks.NewLocalLocker(),
		nil,
		logger,
	)

	eng := New(
		store.WorkflowRepository(),
		store.ExecutionRepository(),
		services,
		txns,
		nil,
		logger,
	)

	return &engineFixture{engine: eng, services: services, store: store}
}

func (f *engineFixture) saveWorkflow(t *testing.T, workflow *models.Workflow) {
	t.Helper()

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID
	}

	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), workflow))
}

// sendMoneyWorkflow is a three-step transfer flow: collect the amount, review,
// then post the transaction.
func sendMoneyWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:       "wf-send-money",
		Name:     "Send Money",
		Version:  1,
		IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "amount-form", Order: 0, Type: models.StepTypeForm, Label: "Amount",
				ExecutionMode: models.ExecutionModeClientOnly, IsActive: true,
				Config: map[string]any{"form_id": "transfer-amount"},
			},
			{
				ID: "confirm", Order: 1, Type: models.StepTypeConfirmation, Label: "Confirm",
				ExecutionMode: models.ExecutionModeClientOnly, IsActive: true,
				Config: map[string]any{
					"message":        "Send {{amount-form.amount}} {{amount-form.currency}}?",
					"decline_action": "CANCEL",
				},
			},
			{
				ID: "post", Order: 2, Type: models.StepTypePostTransaction, Label: "Post",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingAfterStep, IsActive: true,
				Config: map[string]any{
					"transaction_type": "TRANSFER",
					"parameter_mapping": map[string]any{
						"amount":   "{{amount-form.amount}}",
						"currency": "{{amount-form.currency}}",
						"from_ref": "{{amount-form.from_account}}",
						"to_ref":   "{{amount-form.to_account}}",
					},
				},
			},
		},
	}
}

func runSendMoneyToPost(t *testing.T, fixture *engineFixture) *models.WorkflowExecution {
	t.Helper()

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.NoError(t, err)

	execution := started.Execution

	outcome, err := fixture.engine.ExecuteStep(t.Context(), execution.ID, "amount-form", map[string]any{
		"amount":       "250.00",
		"currency":     "USD",
		"from_account": "ACC-100",
		"to_account":   "ACC-200",
	}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	require.True(t, outcome.ShouldProceed)

	outcome, err = fixture.engine.ExecuteStep(t.Context(), execution.ID, "confirm",
		map[string]any{"confirmed": true}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	require.True(t, outcome.ShouldProceed)

	return execution
}

func TestStart_BindsFirstActiveStep(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1",
		map[string]any{"device": "android"})
	require.NoError(t, err)

	assert.Equal(t, "amount-form", started.Execution.CurrentStepID)
	assert.Equal(t, models.ExecutionStatusInProgress, started.Execution.Status)
	require.Len(t, started.Steps, 3)

	seed, ok := started.Execution.Context.Lookup(InitialContextKey)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"device": "android"}, seed.Result)
}

func TestStart_RejectsSecondExecutionForSession(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.NoError(t, err)

	_, err = fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsActiveExecutionExists(err))

	// A different session is unaffected, and a finished session can start
	// over.
	_, err = fixture.engine.Start(t.Context(), "wf-send-money", "user-2", "session-2", nil)
	require.NoError(t, err)

	_, err = fixture.engine.Cancel(t.Context(), started.Execution.ID, "user backed out")
	require.NoError(t, err)

	_, err = fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.NoError(t, err)
}

func TestStart_RejectsInactiveWorkflow(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})

	workflow := sendMoneyWorkflow()
	workflow.IsActive = false
	fixture.saveWorkflow(t, workflow)

	_, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowInactive)
}

func TestExecuteStep_FullTransferFlow(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	execution := runSendMoneyToPost(t, fixture)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), execution.ID, "post",
		nil, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	require.True(t, outcome.Success, outcome.Error)
	result, ok := outcome.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.TransactionStatusCompleted), result["status"])
	assert.Equal(t, "LEDGER-REF-1", result["external_reference"])
	assert.NotEmpty(t, result["reference"])

	completed, err := fixture.engine.Complete(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)

	postEntry, ok := completed.FinalResult["post"].(map[string]any)
	require.True(t, ok)

	postResult, ok := postEntry["result"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, postResult["reference"])
}

func TestExecuteStep_PostTransactionFailureDoesNotAdvance(t *testing.T) {
	fixture := newFixture(t, rejectingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	execution := runSendMoneyToPost(t, fixture)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), execution.ID, "post",
		nil, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.ShouldProceed)
	assert.Contains(t, outcome.Error, "not completed")

	current, err := fixture.engine.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "post", current.CurrentStepID)
	assert.Equal(t, models.ExecutionStatusInProgress, current.Status)
}

func TestExecuteStep_OutOfSequence(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "post",
		nil, models.TriggerTimingAfterStep)
	require.Error(t, err)
	assert.True(t, IsOutOfSequence(err))

	var sequence *SequenceError

	require.ErrorAs(t, err, &sequence)
	assert.Equal(t, "post", sequence.RequestedID)
	assert.Equal(t, "amount-form", sequence.CurrentID)
}

func TestExecuteStep_RejectsUnknownTiming(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-1", nil)
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "amount-form",
		nil, models.TriggerTimingBoth)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTiming)
}

func TestExecuteStep_ServerSideValidation(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})

	minAmount := 1.0
	workflow := &models.Workflow{
		ID: "wf-validate", Name: "Validate", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "check", Order: 0, Type: models.StepTypeValidation, Label: "Check",
				ExecutionMode: models.ExecutionModeServerValidation,
				TriggerTiming: models.TriggerTimingAfterStep,
				TriggerEndpoint: "accounts/validate", IsActive: true,
				Config: map[string]any{
					"parameter_mapping": map[string]any{"account": "{{account}}"},
				},
				ValidationRules: []models.FieldRule{
					{FieldID: "account", Required: true},
					{FieldID: "amount", Min: &minAmount},
				},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-validate", "user-1", "session-2", nil)
	require.NoError(t, err)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "check",
		map[string]any{"amount": "0.2"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, "is required", outcome.FieldErrors["account"])
	assert.Contains(t, outcome.FieldErrors["amount"], "must be at least")
	assert.Empty(t, fixture.services.calls, "adapter must not be called on invalid input")

	outcome, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "check",
		map[string]any{"account": "ACC-1", "amount": "50"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	require.Len(t, fixture.services.calls, 1)
	assert.Equal(t, "accounts/validate", fixture.services.calls[0].Endpoint)
	assert.Equal(t, "ACC-1", fixture.services.calls[0].Params["account"])
}

func TestExecuteStep_UnresolvedReferenceSurfacesInOutcome(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})

	workflow := &models.Workflow{
		ID: "wf-unresolved", Name: "Unresolved", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "call", Order: 0, Type: models.StepTypeAPICall, Label: "Call",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingAfterStep,
				TriggerEndpoint: "accounts/lookup", IsActive: true,
				Config: map[string]any{
					"parameter_mapping": map[string]any{"owner": "{{missing-step.owner}}"},
				},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-unresolved", "user-1", "session-3", nil)
	require.NoError(t, err)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "call",
		nil, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "unresolved reference")
	assert.Empty(t, fixture.services.calls)
}

func TestExecuteStep_BothTimingRequiresBeforeCall(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})

	workflow := &models.Workflow{
		ID: "wf-otp", Name: "OTP", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "otp", Order: 0, Type: models.StepTypeOTP, Label: "One-time code",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingBoth,
				TriggerEndpoint: "otp/verify", IsActive: true,
				Config: map[string]any{"channel": "sms"},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-otp", "user-1", "session-4", nil)
	require.NoError(t, err)

	// Verifying a code before one was sent is a sequencing bug.
	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		map[string]any{"code": "123456"}, models.TriggerTimingAfterStep)
	require.Error(t, err)
	assert.True(t, IsOutOfSequence(err))

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		nil, models.TriggerTimingBeforeStep)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	outcome, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		map[string]any{"code": "123456"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Len(t, fixture.services.calls, 2)
}

func TestExecuteStep_BeforeFailureKeepsStep(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.services.err = errors.New("sms gateway down")

	workflow := &models.Workflow{
		ID: "wf-otp-down", Name: "OTP", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "otp", Order: 0, Type: models.StepTypeOTP, Label: "One-time code",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingBoth,
				TriggerEndpoint: "otp/send", IsActive: true,
				Config: map[string]any{"channel": "sms"},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-otp-down", "user-1", "session-5", nil)
	require.NoError(t, err)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		nil, models.TriggerTimingBeforeStep)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.ShouldProceed)
	assert.Contains(t, outcome.Error, "sms gateway down")

	// The gate stays closed: AFTER is still out of sequence.
	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		map[string]any{"code": "123456"}, models.TriggerTimingAfterStep)
	require.Error(t, err)
	assert.True(t, IsOutOfSequence(err))
}

func TestExecuteStep_AttemptBudgetExhausted(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.services.err = errors.New("sms gateway down")

	workflow := &models.Workflow{
		ID: "wf-otp-cap", Name: "OTP", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "otp", Order: 0, Type: models.StepTypeOTP, Label: "One-time code",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingBoth,
				TriggerEndpoint: "otp/send", IsActive: true,
				Config:      map[string]any{"channel": "sms"},
				RetryConfig: &models.StepRetryConfig{MaxRetries: 2},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-otp-cap", "user-1", "session-9", nil)
	require.NoError(t, err)

	for range 2 {
		outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
			nil, models.TriggerTimingBeforeStep)
		require.NoError(t, err)
		assert.False(t, outcome.Success)
	}

	// The third resend is over budget and never reaches the gateway.
	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "otp",
		nil, models.TriggerTimingBeforeStep)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Len(t, fixture.services.calls, 2)
}

func TestConfirmation_DeclineCancelsExecution(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-6", nil)
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "amount-form",
		map[string]any{"amount": "10", "currency": "USD"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "confirm",
		map[string]any{"confirmed": false}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	assert.False(t, outcome.ShouldProceed)

	execution, err := fixture.engine.Get(t.Context(), started.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, "confirmation declined", execution.Error)
	require.NotNil(t, execution.CompletedAt)
}

func TestConfirmation_DeclineReturnsToPreviousStep(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})

	workflow := sendMoneyWorkflow()
	workflow.Steps[1].Config = map[string]any{
		"message":        "Proceed?",
		"decline_action": "PREVIOUS_STEP",
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-7", nil)
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "amount-form",
		map[string]any{"amount": "10", "currency": "USD"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	outcome, err := fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "confirm",
		map[string]any{"confirmed": false}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	assert.False(t, outcome.ShouldProceed)

	execution, err := fixture.engine.Get(t.Context(), started.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusInProgress, execution.Status)
	assert.Equal(t, "amount-form", execution.CurrentStepID)

	// Declining records nothing; the form can be resubmitted and the flow
	// confirmed on the second pass.
	_, ok := execution.Context.Results["confirm"]
	assert.False(t, ok)

	_, err = fixture.engine.ExecuteStep(t.Context(), execution.ID, "amount-form",
		map[string]any{"amount": "20", "currency": "USD"}, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	outcome, err = fixture.engine.ExecuteStep(t.Context(), execution.ID, "confirm",
		map[string]any{"confirmed": true}, models.TriggerTimingAfterStep)
	require.NoError(t, err)
	assert.True(t, outcome.ShouldProceed)
}

func TestComplete_RequiresLastStepResult(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-8", nil)
	require.NoError(t, err)

	_, err = fixture.engine.Complete(t.Context(), started.Execution.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReadyToComplete)
}

func TestCancel_TerminatesInProgressOnly(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-9", nil)
	require.NoError(t, err)

	cancelled, err := fixture.engine.Cancel(t.Context(), started.Execution.ID, "user backed out")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, "user backed out", cancelled.Error)

	_, err = fixture.engine.Cancel(t.Context(), started.Execution.ID, "again")
	require.Error(t, err)
	assert.True(t, IsTerminalState(err))
}

func TestActiveBySession(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.saveWorkflow(t, sendMoneyWorkflow())

	started, err := fixture.engine.Start(t.Context(), "wf-send-money", "user-1", "session-10", nil)
	require.NoError(t, err)

	active, err := fixture.engine.ActiveBySession(t.Context(), "session-10")
	require.NoError(t, err)
	assert.Equal(t, started.Execution.ID, active.ID)
}

func TestTemplateResolutionAcrossSteps(t *testing.T) {
	fixture := newFixture(t, acceptingLedger{})
	fixture.services.responses["accounts/lookup"] = &ledger.ServiceResult{
		StatusCode: 200,
		Body:       map[string]any{"success": true, "owner": "Jane"},
	}

	workflow := &models.Workflow{
		ID: "wf-chain", Name: "Chained", Version: 1, IsActive: true,
		Steps: []*models.WorkflowStep{
			{
				ID: "lookup", Order: 0, Type: models.StepTypeAPICall, Label: "Lookup",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingAfterStep,
				TriggerEndpoint: "accounts/lookup", IsActive: true,
				Config: map[string]any{
					"parameter_mapping": map[string]any{"account": "{{initial.account}}"},
				},
			},
			{
				ID: "notify", Order: 1, Type: models.StepTypeAPICall, Label: "Notify",
				ExecutionMode: models.ExecutionModeServerSync,
				TriggerTiming: models.TriggerTimingAfterStep,
				TriggerEndpoint: "notifications/send", IsActive: true,
				Config: map[string]any{
					"parameter_mapping": map[string]any{
						"message": "Hello {{step_0.owner}}",
					},
				},
			},
		},
	}
	fixture.saveWorkflow(t, workflow)

	started, err := fixture.engine.Start(t.Context(), "wf-chain", "user-1", "session-11",
		map[string]any{"account": "ACC-9"})
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "lookup",
		nil, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	_, err = fixture.engine.ExecuteStep(t.Context(), started.Execution.ID, "notify",
		nil, models.TriggerTimingAfterStep)
	require.NoError(t, err)

	require.Len(t, fixture.services.calls, 2)
	assert.Equal(t, "ACC-9", fixture.services.calls[0].Params["account"])
	assert.Equal(t, "Hello Jane", fixture.services.calls[1].Params["message"])
}
