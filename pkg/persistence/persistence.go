// Package persistence provides the data storage abstraction for workflows
// and executions.
package persistence

import (
	"context"
	"time"

	"github.com/inkletter/inkletter/pkg/events"
	"github.com/inkletter/inkletter/pkg/models"
)

// Persistence is the durable store behind the engine. Executions are the
// only place suspension state lives: a waiting execution is a row with a
// wake time, nothing more.
type Persistence interface {
	// Workflow definitions.
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	// ActiveWorkflowsByTriggerKind returns the active workflows of one
	// publication whose trigger kind equals kind; the matcher narrows
	// further by scope.
	ActiveWorkflowsByTriggerKind(ctx context.Context, publicationID string, kind events.Kind) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Executions.
	//
	// CreateExecution fails with ErrExecutionExists when an execution with
	// the same (workflow ID, event ID) pair already exists.
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	// ExecutionByWorkflowAndEvent resolves the execution created for one
	// (workflow ID, event ID) pair, the same key CreateExecution enforces.
	// The matcher uses it to re-drive a still-running execution when an
	// event is redelivered after a crash.
	ExecutionByWorkflowAndEvent(ctx context.Context, workflowID, eventID string) (*models.Execution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	// UpdateExecution commits one transition guarded by the execution's
	// version: when the stored version differs from execution.Version the
	// update fails with ErrExecutionConflict and nothing is written. On
	// success the stored and in-memory versions are incremented.
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	// DueExecutions returns every waiting execution whose wake time is at
	// or before now, not just the earliest, so a tick catches up after
	// downtime.
	DueExecutions(ctx context.Context, now time.Time) ([]*models.Execution, error)
	// CountExecutionsByStatus derives dashboard counters from the rows
	// themselves; there are no cached counters to drift.
	CountExecutionsByStatus(ctx context.Context, workflowID string) (map[models.ExecutionStatus]int64, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
