package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/eventwire/pkg/step"
)

// CheckpointStore keeps step checkpoints in step_checkpoints.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) GetCheckpoint(ctx context.Context, executionID, stepID string) (*step.Checkpoint, error) {
	query := `
		SELECT
			execution_id
		  , step_id
		  , output
		  , attempts
		  , started_at
		  , completed_at
		FROM step_checkpoints
		WHERE execution_id = $1 AND step_id = $2
	`

	var (
		checkpoint step.Checkpoint
		output     []byte
	)

	err := s.db.QueryRowContext(ctx, query, executionID, stepID).Scan(
		&checkpoint.ExecutionID,
		&checkpoint.StepID,
		&output,
		&checkpoint.Attempts,
		&checkpoint.StartedAt,
		&checkpoint.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get checkpoint %s/%s: %w", executionID, stepID, err)
	}

	checkpoint.Output = output

	return &checkpoint, nil
}

// SaveCheckpoint upserts a checkpoint. A later save of the same step overwrites the earlier one.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *step.Checkpoint) error {
	if checkpoint.ExecutionID == "" || checkpoint.StepID == "" {
		return step.ErrInvalidStepKey
	}

	var output any
	if len(checkpoint.Output) > 0 {
		output = []byte(checkpoint.Output)
	}

	query := `
		INSERT INTO step_checkpoints (execution_id, step_id, output, attempts, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id, step_id) DO UPDATE SET
			output = EXCLUDED.output,
			attempts = EXCLUDED.attempts,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		checkpoint.ExecutionID,
		checkpoint.StepID,
		output,
		checkpoint.Attempts,
		checkpoint.StartedAt,
		checkpoint.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", checkpoint.ExecutionID, checkpoint.StepID, err)
	}

	return nil
}

func (s *CheckpointStore) DeleteCheckpoints(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM step_checkpoints WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints of %s: %w", executionID, err)
	}

	return nil
}
