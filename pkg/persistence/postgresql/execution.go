package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = `
			id
		  , workflow_id
		  , status
		  , triggered_by
		  , trigger_input
		  , logs
		  , error
		  , started_at
		  , completed_at
		  , workflow_snapshot
		  , idempotency_key
		  , lease_owner
		  , lease_until
		  , updated_at`

const (
	// uniqueViolation is the PostgreSQL error code for duplicate keys.
	uniqueViolation = "23505"

	idempotencyKeyIndex = "idx_workflow_executions_idempotency_key"
)

// ExecutionRepository stores execution records in workflow_executions.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	if execution.Logs == nil {
		execution.Logs = []models.NodeExecutionLog{}
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.StartedAt
	}

	triggeredBy, triggerInput, logs, err := marshalExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	var snapshot []byte
	if execution.Workflow != nil {
		snapshot, err = json.Marshal(execution.Workflow)
		if err != nil {
			return persistence.NewExecutionError("CreateExecution", execution.ID, fmt.Errorf("failed to marshal workflow snapshot: %w", err))
		}
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, status, triggered_by, trigger_input, logs, error, started_at, completed_at,
			workflow_snapshot, idempotency_key, lease_owner, lease_until, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		triggeredBy,
		triggerInput,
		logs,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
		snapshot,
		execution.IdempotencyKey,
		execution.LeaseOwner,
		execution.LeaseUntil,
		execution.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == idempotencyKeyIndex {
				return persistence.NewExecutionError("CreateExecution", execution.ID,
					fmt.Errorf("%w: key %s", persistence.ErrDuplicateExecution, execution.IdempotencyKey))
			}

			return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

// UpdateExecution applies patch under a row lock so concurrent updates of one record serialize.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) (*models.WorkflowExecution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
		FOR UPDATE
	`

	execution, err := scanExecution(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("UpdateExecution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	if patch.Owner != "" && execution.LeaseOwner != patch.Owner {
		err = fmt.Errorf("%w: leased to %q, not %q", persistence.ErrExecutionLeaseLost, execution.LeaseOwner, patch.Owner)

		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	execution.Apply(patch)
	execution.UpdatedAt = time.Now().UTC()

	_, _, logs, err := marshalExecution(execution)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	update := `
		UPDATE workflow_executions
		SET status = $2, logs = $3, error = $4, completed_at = $5, lease_until = $6, updated_at = $7
		WHERE id = $1
	`

	_, err = tx.ExecContext(ctx, update, id,
		execution.Status,
		logs,
		execution.Error,
		execution.CompletedAt,
		execution.LeaseUntil,
		execution.UpdatedAt,
	)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return execution, nil
}

// ClaimExecution takes the lease with a single conditional UPDATE, so concurrent
// claimants from any number of processes see at most one success.
func (r *ExecutionRepository) ClaimExecution(
	ctx context.Context,
	id, owner string,
	leaseUntil time.Time,
) (*models.WorkflowExecution, bool, error) {
	query := `
		UPDATE workflow_executions
		SET lease_owner = $2, lease_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'running')
		  AND (lease_until IS NULL OR lease_until <= NOW())
		RETURNING` + executionColumns

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id, owner, leaseUntil))
	if err == nil {
		return execution, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, persistence.NewExecutionError("ClaimExecution", id, err)
	}

	current, err := r.GetExecution(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return current, false, nil
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewExecutionError("GetExecution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	return r.query(ctx, query, workflowID)
}

func (r *ExecutionRepository) ListExecutionsByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE status = ANY($1)
		ORDER BY started_at
	`

	return r.query(ctx, query, pq.Array(values))
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
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

func marshalExecution(execution *models.WorkflowExecution) (triggeredBy, triggerInput, logs []byte, err error) {
	triggeredBy, err = json.Marshal(execution.TriggeredBy)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal triggered by: %w", err)
	}

	if execution.TriggerInput != nil {
		triggerInput, err = json.Marshal(execution.TriggerInput)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal trigger input: %w", err)
		}
	}

	executionLogs := execution.Logs
	if executionLogs == nil {
		executionLogs = []models.NodeExecutionLog{}
	}

	logs, err = json.Marshal(executionLogs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal logs: %w", err)
	}

	return triggeredBy, triggerInput, logs, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution    models.WorkflowExecution
		triggeredBy  []byte
		triggerInput []byte
		logs         []byte
		completedAt  sql.NullTime
		snapshot     []byte
		key          sql.NullString
		leaseUntil   sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&triggeredBy,
		&triggerInput,
		&logs,
		&execution.Error,
		&execution.StartedAt,
		&completedAt,
		&snapshot,
		&key,
		&execution.LeaseOwner,
		&leaseUntil,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.IdempotencyKey = key.String

	if leaseUntil.Valid {
		execution.LeaseUntil = &leaseUntil.Time
	}

	if len(snapshot) > 0 {
		execution.Workflow = &models.Workflow{}

		err = json.Unmarshal(snapshot, execution.Workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow snapshot: %w", err)
		}
	}

	err = json.Unmarshal(triggeredBy, &execution.TriggeredBy)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggered by: %w", err)
	}

	if len(triggerInput) > 0 {
		err = json.Unmarshal(triggerInput, &execution.TriggerInput)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger input: %w", err)
		}
	}

	err = json.Unmarshal(logs, &execution.Logs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}
