package file

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/step"
)

// CheckpointStore keeps step checkpoints under root/checkpoints/<executionId>/.
// Step ids are base64url encoded into file names since node ids are free-form.
type CheckpointStore struct {
	root string
	mu   sync.RWMutex
}

func NewCheckpointStore(root string) *CheckpointStore {
	return &CheckpointStore{root: root}
}

func (cs *CheckpointStore) executionDir(executionID string) string {
	return filepath.Join(cs.root, "checkpoints", executionID)
}

func (cs *CheckpointStore) path(executionID, stepID string) string {
	return filepath.Join(cs.executionDir(executionID), base64.RawURLEncoding.EncodeToString([]byte(stepID))+".json")
}

func (cs *CheckpointStore) GetCheckpoint(_ context.Context, executionID, stepID string) (*step.Checkpoint, error) {
	err := persistence.ValidateID(executionID)
	if err != nil {
		return nil, err
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var checkpoint step.Checkpoint

	found, err := readJSON(cs.path(executionID, stepID), &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s/%s: %w", executionID, stepID, err)
	}

	if !found {
		return nil, nil
	}

	return &checkpoint, nil
}

func (cs *CheckpointStore) SaveCheckpoint(_ context.Context, checkpoint *step.Checkpoint) error {
	err := persistence.ValidateID(checkpoint.ExecutionID)
	if err != nil {
		return err
	}

	if checkpoint.StepID == "" {
		return step.ErrInvalidStepKey
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	err = writeJSON(cs.path(checkpoint.ExecutionID, checkpoint.StepID), checkpoint)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", checkpoint.ExecutionID, checkpoint.StepID, err)
	}

	return nil
}

func (cs *CheckpointStore) DeleteCheckpoints(_ context.Context, executionID string) error {
	err := persistence.ValidateID(executionID)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	err = os.RemoveAll(cs.executionDir(executionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoints of %s: %w", executionID, err)
	}

	return nil
}
