package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/persistence"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// ExecutionRepository handles execution rows. Every transition is committed
// through Update's compare-and-swap on the version column; there is no other
// write path for an existing row.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , subscriber_id
  , event_id
  , status
  , current_node_id
  , context
  , wake_at
  , attempts
  , last_error
  , version
  , created_at
  , updated_at
`

// Create inserts a new execution. A duplicate (workflow_id, event_id) pair
// maps to persistence.ErrExecutionExists so event redelivery is a no-op.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, subscriber_id, event_id, status,
			current_node_id, context, wake_at, attempts, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.SubscriberID,
		execution.EventID,
		execution.Status,
		execution.CurrentNodeID,
		contextJSON,
		execution.WakeAt,
		execution.Attempts,
		execution.LastError,
		execution.Version,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.ErrExecutionExists
		}

		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// GetByID returns one execution, or persistence.ErrExecutionNotFound.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflowAndEvent returns the execution keyed by one
// (workflow_id, event_id) pair, or persistence.ErrExecutionNotFound.
func (r *ExecutionRepository) GetByWorkflowAndEvent(ctx context.Context, workflowID, eventID string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE workflow_id = $1 AND event_id = $2`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, workflowID, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflow returns all executions of a workflow, oldest first.
func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE workflow_id = $1 ORDER BY created_at`

	return r.queryExecutions(ctx, query, workflowID)
}

// Update commits one transition. The WHERE clause carries the version the
// caller read; zero affected rows on an existing execution means another
// worker committed first and the transition is discarded with
// persistence.ErrExecutionConflict.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE executions SET
			status = $1,
			current_node_id = $2,
			context = $3,
			wake_at = $4,
			attempts = $5,
			last_error = $6,
			version = version + 1,
			updated_at = $7
		WHERE id = $8 AND version = $9
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.Status,
		execution.CurrentNodeID,
		contextJSON,
		execution.WakeAt,
		execution.Attempts,
		execution.LastError,
		execution.UpdatedAt,
		execution.ID,
		execution.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check execution existence: %w", err)
		}

		if !exists {
			return persistence.ErrExecutionNotFound
		}

		return persistence.ErrExecutionConflict
	}

	execution.Version++

	return nil
}

// Due returns every waiting execution whose wake time has passed.
func (r *ExecutionRepository) Due(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = $1 AND wake_at <= $2
		ORDER BY wake_at
	`

	return r.queryExecutions(ctx, query, string(models.ExecutionStatusWaiting), now)
}

// CountByStatus derives per-status execution counts for dashboards.
func (r *ExecutionRepository) CountByStatus(ctx context.Context, workflowID string) (map[models.ExecutionStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM executions WHERE workflow_id = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	counts := make(map[models.ExecutionStatus]int64)

	for rows.Next() {
		var (
			status models.ExecutionStatus
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}

		counts[status] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution counts: %w", err)
	}

	return counts, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		contextJSON []byte
		wakeAt      sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.SubscriberID,
		&execution.EventID,
		&execution.Status,
		&execution.CurrentNodeID,
		&contextJSON,
		&wakeAt,
		&execution.Attempts,
		&execution.LastError,
		&execution.Version,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if wakeAt.Valid {
		wake := wakeAt.Time
		execution.WakeAt = &wake
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	return &execution, nil
}
