// Package step runs units of work exactly once per (execution, step) pair and retries failures with backoff.
package step

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidStepKey = errors.New("invalid step key")

// Checkpoint is the durable record of a completed step.
type Checkpoint struct {
	ExecutionID string          `json:"executionId"`
	StepID      string          `json:"stepId"`
	Output      json.RawMessage `json:"output"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Store persists checkpoints. Get returns nil, nil when the step has not completed.
type Store interface {
	GetCheckpoint(ctx context.Context, executionID, stepID string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	DeleteCheckpoints(ctx context.Context, executionID string) error
}

func validateKey(executionID, stepID string) error {
	if executionID == "" || stepID == "" {
		return ErrInvalidStepKey
	}

	if strings.ContainsAny(executionID, "/\\") || strings.Contains(executionID, "..") {
		return ErrInvalidStepKey
	}

	return nil
}
