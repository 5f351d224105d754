package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.dir(), id+".json")
}

// List returns every workflow ordered by creation time, newest first.
func (wr *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	return wr.list(ctx, func(*models.Workflow) bool { return true })
}

// ListEnabledWorkflows returns the enabled workflows of an organization.
func (wr *WorkflowRepository) ListEnabledWorkflows(ctx context.Context, organizationID string) ([]*models.Workflow, error) {
	return wr.list(ctx, func(workflow *models.Workflow) bool {
		return workflow.Enabled && workflow.OrganizationID == organizationID
	})
}

func (wr *WorkflowRepository) list(ctx context.Context, keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	ids, err := listJSON(wr.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		var workflow models.Workflow

		found, err := readJSON(wr.path(id), &workflow)
		if err != nil {
			return nil, persistence.NewWorkflowError("List", id, err)
		}

		if found && keep(&workflow) {
			workflows = append(workflows, &workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	err := persistence.ValidateID(workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	var workflow models.Workflow

	found, err := readJSON(wr.path(workflowID), &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	if !found {
		return nil, nil
	}

	return &workflow, nil
}

// Save saves a workflow to the file system, assigning an id and timestamps when missing.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	err := persistence.ValidateID(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err = writeJSON(wr.path(workflow.ID), workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow file. Deleting an unknown workflow is not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	err := persistence.ValidateID(workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err = os.Remove(wr.path(workflowID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	return nil
}
