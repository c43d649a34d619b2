// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by id or session.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrTransactionNotFound indicates a transaction was not found by id or reference.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateReference indicates a transaction reference collision on insert.
	ErrDuplicateReference = errors.New("duplicate transaction reference")

	// ErrActiveExecutionExists indicates the session already has a live execution.
	ErrActiveExecutionExists = errors.New("session already has an active execution")
)

// StoreError wraps a persistence failure with the operation and entity that
// produced it.
type StoreError struct {
	Op       string // Operation being performed (e.g. "GetByID", "Save")
	Entity   string // Entity kind ("workflow", "execution", "transaction")
	EntityID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.EntityID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a store error with context.
func NewStoreError(op, entity, entityID string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, EntityID: entityID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsTransactionNotFound checks if an error indicates a transaction was not found.
func IsTransactionNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}

// IsDuplicateReference checks if an error indicates a reference collision.
func IsDuplicateReference(err error) bool {
	return errors.Is(err, ErrDuplicateReference)
}

// IsActiveExecutionExists checks if an error indicates a session conflict.
func IsActiveExecutionExists(err error) bool {
	return errors.Is(err, ErrActiveExecutionExists)
}
