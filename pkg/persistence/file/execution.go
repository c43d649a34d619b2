package file

import (
	"context"
	"path/filepath"

	"github.com/mufaro/bankflow/pkg/models"
	"github.com/mufaro/bankflow/pkg/persistence"
)

// ExecutionRepository stores workflow executions as JSON files.
type ExecutionRepository struct {
	root string
}

func (r *ExecutionRepository) dir() string {
	return filepath.Join(r.root, "executions")
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	if err := writeJSON(r.dir(), execution.ID, execution); err != nil {
		return persistence.NewStoreError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	found, err := readJSON(r.dir(), id, &execution)
	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "execution", id, err)
	}

	if !found {
		return nil, persistence.NewStoreError("GetByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (r *ExecutionRepository) ActiveBySession(ctx context.Context, sessionID string) (*models.WorkflowExecution, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, persistence.NewStoreError("ActiveBySession", "execution", sessionID, err)
	}

	for _, id := range ids {
		execution, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution.SessionID == sessionID && !execution.Status.IsTerminal() {
			return execution, nil
		}
	}

	return nil, persistence.NewStoreError("ActiveBySession", "execution", sessionID, persistence.ErrExecutionNotFound)
}
