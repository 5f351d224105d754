package step

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process. It is the store for tests and single-node development.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]map[string]Checkpoint)}
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, executionID, stepID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checkpoint, ok := m.checkpoints[executionID][stepID]
	if !ok {
		return nil, nil
	}

	return &checkpoint, nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint *Checkpoint) error {
	err := validateKey(checkpoint.ExecutionID, checkpoint.StepID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	steps, ok := m.checkpoints[checkpoint.ExecutionID]
	if !ok {
		steps = make(map[string]Checkpoint)
		m.checkpoints[checkpoint.ExecutionID] = steps
	}

	steps[checkpoint.StepID] = *checkpoint

	return nil
}

func (m *MemoryStore) DeleteCheckpoints(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, executionID)

	return nil
}
