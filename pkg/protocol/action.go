// Package protocol defines the contracts between the execution engine and its pluggable parts.
package protocol

import (
	"context"

	"github.com/dukex/eventwire/pkg/models"
)

// ActionHandler executes one kind of action node.
type ActionHandler interface {
	// Type returns the action type this handler serves.
	Type() models.ActionType

	// Name returns the human-readable name for this action.
	Name() string

	// Schema returns the JSON schema for configuring this action.
	Schema() map[string]any

	// Execute runs the action. The returned output is stored as outputs[nodeId].
	Execute(ctx context.Context, config models.ActionConfig, execCtx *models.ExecutionContext) (any, error)
}
