// Package persistence provides the storage abstraction for workflows, executions and step checkpoints.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/step"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	CheckpointStore() step.Store

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow graphs. GetByID returns nil, nil for unknown ids.
type WorkflowRepository interface {
	List(ctx context.Context) ([]*models.Workflow, error)
	ListEnabledWorkflows(ctx context.Context, organizationID string) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. Each execution owns one record and
// UpdateExecution is the only way it changes after creation, apart from lease claims.
type ExecutionRepository interface {
	// CreateExecution fails with ErrDuplicateExecution when another record has the same idempotency key.
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) (*models.WorkflowExecution, error)

	// ClaimExecution leases a non-terminal execution to owner until leaseUntil, atomically,
	// unless another live lease holds it. It returns the current record and whether the claim
	// succeeded; the record is nil when the execution does not exist.
	ClaimExecution(ctx context.Context, id, owner string, leaseUntil time.Time) (*models.WorkflowExecution, bool, error)

	// GetExecution returns nil, nil when the execution does not exist.
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// ListExecutionsByWorkflow returns the executions of a workflow, newest first.
	ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	// ListExecutionsByStatus returns executions in any of the given statuses, oldest first.
	ListExecutionsByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.WorkflowExecution, error)
}
