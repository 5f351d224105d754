package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/persistence"
	"github.com/dukex/eventwire/pkg/registry"
)

var (
	// ErrWorkflowNotFound is returned when a run references a workflow that does not exist.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrExecutionNotFound is returned when Run or Resume references an unknown execution.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrDuplicateExecution is returned by Start when the event already started the workflow.
	ErrDuplicateExecution = persistence.ErrDuplicateExecution

	// ErrExecutionClaimed is returned by Run when another runner holds the execution lease.
	ErrExecutionClaimed = errors.New("execution is leased to another runner")

	ErrWorkflowNoTrigger = errors.New("workflow has no trigger nodes")
	ErrWorkflowDisabled  = errors.New("workflow is disabled")
	ErrWorkflowCycle     = errors.New("workflow graph contains a cycle")

	// ErrNodeMisconfigured marks an action node without an action config.
	ErrNodeMisconfigured = errors.New("node is misconfigured")
)

// NodeError is the failure of one node. It aborts the execution it belongs to.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// IsStructural reports errors caused by the shape of a workflow rather than by a node at runtime.
func IsStructural(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrWorkflowNoTrigger) ||
		errors.Is(err, ErrWorkflowDisabled) ||
		errors.Is(err, ErrWorkflowCycle)
}

// NonRetryable classifies step errors that must not be retried.
func NonRetryable(err error) bool {
	return actions.IsPermanent(err) ||
		IsStructural(err) ||
		errors.Is(err, ErrNodeMisconfigured) ||
		errors.Is(err, registry.ErrActionNotRegistered) ||
		errors.Is(err, context.Canceled)
}

// failureMessage is what an execution record stores for err: the node's own message when a node failed.
func failureMessage(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Err.Error()
	}

	return err.Error()
}
