package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
)

// ExecutionRepository handles workflow execution persistence.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	resultJSON, err := json.Marshal(execution.FinalResult)
	if err != nil {
		return fmt.Errorf("failed to marshal final result: %w", err)
	}

	var currentStep sql.NullString
	if execution.CurrentStepID != "" {
		currentStep = sql.NullString{String: execution.CurrentStepID, Valid: true}
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, user_id, session_id,
			current_step_id, status, context, final_result, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			current_step_id = EXCLUDED.current_step_id,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			final_result = EXCLUDED.final_result,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.UserID,
		execution.SessionID,
		currentStep,
		execution.Status,
		contextJSON,
		resultJSON,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505 is unique_violation: the partial index on active sessions.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewStoreError("Save", "execution", execution.ID, persistence.ErrActiveExecutionExists)
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := selectExecution + " WHERE id = $1"

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ActiveBySession(ctx context.Context, sessionID string) (*models.WorkflowExecution, error) {
	query := selectExecution + `
		WHERE session_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY started_at DESC
		LIMIT 1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ActiveBySession", "execution", sessionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

const selectExecution = `
	SELECT id, workflow_id, user_id, session_id, current_step_id, status,
		context, final_result, error, started_at, completed_at
	FROM workflow_executions
`

func scanExecution(scanner interface{ Scan(dest ...any) error }) (*models.WorkflowExecution, error) {
	var (
		execution               models.WorkflowExecution
		currentStep             sql.NullString
		contextJSON, resultJSON []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.SessionID,
		&currentStep,
		&execution.Status,
		&contextJSON,
		&resultJSON,
		&execution.Error,
		&execution.StartedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentStep.Valid {
		execution.CurrentStepID = currentStep.String
	}

	if contextJSON != nil {
		err := json.Unmarshal(contextJSON, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	if resultJSON != nil && string(resultJSON) != "null" {
		err := json.Unmarshal(resultJSON, &execution.FinalResult)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal final result: %w", err)
		}
	}

	return &execution, nil
}
