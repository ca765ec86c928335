package persistence

import "errors"

// Standard persistence error types that all implementations must use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists indicates an execution for the same workflow and
	// event already exists; event redelivery hits this and is a no-op.
	ErrExecutionExists = errors.New("execution already exists for this workflow and event")

	// ErrExecutionConflict indicates a transition was built against a stale
	// execution version and was discarded; the caller refetches and retries.
	ErrExecutionConflict = errors.New("execution was modified concurrently")
)

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionExists checks if an error indicates the idempotency key was already taken.
func IsExecutionExists(err error) bool {
	return errors.Is(err, ErrExecutionExists)
}

// IsExecutionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsExecutionConflict(err error) bool {
	return errors.Is(err, ErrExecutionConflict)
}
