// Package registry maps action types to their handlers and validates node configurations.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrActionNotRegistered = errors.New("action type not registered")
	ErrInvalidNodeConfig   = errors.New("invalid node config")
)

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.ActionType]protocol.ActionHandler
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "registry"),
		handlers: make(map[models.ActionType]protocol.ActionHandler),
	}
}

// Register adds or replaces the handler for its action type.
func (r *Registry) Register(handler protocol.ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[handler.Type()] = handler

	r.logger.Debug("Registered action handler", "action_type", handler.Type(), "name", handler.Name())
}

// Handler returns the handler registered for actionType.
//
//nolint:ireturn
func (r *Registry) Handler(actionType models.ActionType) (protocol.ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, actionType)
	}

	return handler, nil
}

// ActionTypes lists registered action types in lexical order.
func (r *Registry) ActionTypes() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ActionType, 0, len(r.handlers))
	for actionType := range r.handlers {
		types = append(types, actionType)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// ValidateNode checks a node config against the JSON schema of its variant.
func (r *Registry) ValidateNode(node *models.WorkflowNode) error {
	var schema map[string]any

	switch cfg := node.Data.Config.(type) {
	case nil:
		return fmt.Errorf("%w: node %s has no config", ErrInvalidNodeConfig, node.ID)
	case models.TriggerConfig:
		if !node.IsTrigger() {
			return fmt.Errorf("%w: action node %s carries a trigger config", ErrInvalidNodeConfig, node.ID)
		}

		schema = TriggerSchema(cfg.TriggerType())
	case models.ActionConfig:
		if !node.IsAction() {
			return fmt.Errorf("%w: trigger node %s carries an action config", ErrInvalidNodeConfig, node.ID)
		}

		handler, err := r.Handler(cfg.ActionType())
		if err != nil {
			return err
		}

		schema = handler.Schema()
	}

	if schema == nil {
		return nil
	}

	return validateAgainst(node.ID, schema, node.Data.Config)
}

func validateAgainst(nodeID string, schema map[string]any, config any) error {
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config of node %s: %w", nodeID, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to validate config of node %s: %w", nodeID, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w: node %s: %s", ErrInvalidNodeConfig, nodeID, strings.Join(messages, "; "))
	}

	return nil
}
