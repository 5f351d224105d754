package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository stores one JSON document per execution.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

// keyPath locates the index document of an idempotency key.
func (er *ExecutionRepository) keyPath(key string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()

	return filepath.Join(er.dir(), "keys", name+".json")
}

type keyIndex struct {
	Key         string `json:"key"`
	ExecutionID string `json:"executionId"`
}

func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	err := persistence.ValidateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	_, err = os.Stat(er.path(execution.ID))
	if err == nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if execution.IdempotencyKey != "" {
		var existing keyIndex

		found, err := readJSON(er.keyPath(execution.IdempotencyKey), &existing)
		if err != nil {
			return persistence.NewExecutionError("CreateExecution", execution.ID, err)
		}

		if found {
			return persistence.NewExecutionError("CreateExecution", execution.ID,
				fmt.Errorf("%w: key %s is held by %s", persistence.ErrDuplicateExecution, execution.IdempotencyKey, existing.ExecutionID))
		}
	}

	if execution.Logs == nil {
		execution.Logs = []models.NodeExecutionLog{}
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.StartedAt
	}

	err = writeJSON(er.path(execution.ID), execution)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	if execution.IdempotencyKey != "" {
		err = writeJSON(er.keyPath(execution.IdempotencyKey), keyIndex{Key: execution.IdempotencyKey, ExecutionID: execution.ID})
		if err != nil {
			return persistence.NewExecutionError("CreateExecution", execution.ID, err)
		}
	}

	return nil
}

func (er *ExecutionRepository) UpdateExecution(_ context.Context, id string, patch models.ExecutionPatch) (*models.WorkflowExecution, error) {
	err := persistence.ValidateID(id)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	var execution models.WorkflowExecution

	found, err := readJSON(er.path(id), &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("UpdateExecution", id, persistence.ErrExecutionNotFound)
	}

	if patch.Owner != "" && execution.LeaseOwner != patch.Owner {
		return nil, persistence.NewExecutionError("UpdateExecution", id,
			fmt.Errorf("%w: leased to %q, not %q", persistence.ErrExecutionLeaseLost, execution.LeaseOwner, patch.Owner))
	}

	execution.Apply(patch)
	execution.UpdatedAt = time.Now().UTC()

	err = writeJSON(er.path(id), &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("UpdateExecution", id, err)
	}

	return &execution, nil
}

// ClaimExecution is a compare-and-set under the repository lock. It only excludes
// claimants sharing this repository, so one data directory serves one process.
func (er *ExecutionRepository) ClaimExecution(
	_ context.Context,
	id, owner string,
	leaseUntil time.Time,
) (*models.WorkflowExecution, bool, error) {
	err := persistence.ValidateID(id)
	if err != nil {
		return nil, false, persistence.NewExecutionError("ClaimExecution", id, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	var execution models.WorkflowExecution

	found, err := readJSON(er.path(id), &execution)
	if err != nil {
		return nil, false, persistence.NewExecutionError("ClaimExecution", id, err)
	}

	if !found {
		return nil, false, nil
	}

	now := time.Now().UTC()
	if !execution.Claimable(now) {
		return &execution, false, nil
	}

	execution.LeaseOwner = owner
	execution.LeaseUntil = &leaseUntil
	execution.UpdatedAt = now

	err = writeJSON(er.path(id), &execution)
	if err != nil {
		return nil, false, persistence.NewExecutionError("ClaimExecution", id, err)
	}

	return &execution, true, nil
}

func (er *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.WorkflowExecution, error) {
	err := persistence.ValidateID(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetExecution", id, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	var execution models.WorkflowExecution

	found, err := readJSON(er.path(id), &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetExecution", id, err)
	}

	if !found {
		return nil, nil
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.list(ctx, func(execution *models.WorkflowExecution) bool {
		return execution.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) ListExecutionsByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	executions, err := er.list(ctx, func(execution *models.WorkflowExecution) bool {
		return slices.Contains(statuses, execution.Status)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) list(ctx context.Context, keep func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	ids, err := listJSON(er.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		var execution models.WorkflowExecution

		found, err := readJSON(er.path(id), &execution)
		if err != nil {
			return nil, persistence.NewExecutionError("List", id, err)
		}

		if found && keep(&execution) {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}
