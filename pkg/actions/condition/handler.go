// Package condition evaluates a boolean expression node and exposes the result to downstream edges.
package condition

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/expression"
	"github.com/dukex/eventwire/pkg/models"
)

type Handler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "condition_action")}
}

func (h *Handler) Type() models.ActionType {
	return models.ActionTypeCondition
}

func (h *Handler) Name() string {
	return "Condition"
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"condition"},
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Expression over trigger.* and outputs.<nodeId>.*",
				"examples":    []any{"outputs.fetch.status == 200 && trigger.eventTitle contains \"deploy\""},
			},
		},
	}
}

// Execute returns {"result": bool}. Evaluation failures yield false, never an error.
func (h *Handler) Execute(ctx context.Context, config models.ActionConfig, execCtx *models.ExecutionContext) (any, error) {
	cfg, ok := config.(*models.ConditionAction)
	if !ok {
		return nil, actions.WrongConfig(models.ActionTypeCondition, config)
	}

	if strings.TrimSpace(cfg.Condition) == "" {
		return nil, actions.MissingField(models.ActionTypeCondition, "condition")
	}

	result := expression.EvaluateOrFalse(ctx, h.logger, cfg.Condition, execCtx.AsMap())

	return map[string]any{"result": result}, nil
}
