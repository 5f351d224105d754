// Package email is the placeholder email action. It renders the message and logs it without sending.
package email

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/template"
)

const notConfiguredReason = "email delivery is not configured"

type Handler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "email_action")}
}

func (h *Handler) Type() models.ActionType {
	return models.ActionTypeEmail
}

func (h *Handler) Name() string {
	return "Email"
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"to"},
		"properties": map[string]any{
			"to":      map[string]any{"type": "string", "minLength": 1},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
	}
}

// Execute logs the rendered email and reports it as not sent.
func (h *Handler) Execute(ctx context.Context, config models.ActionConfig, execCtx *models.ExecutionContext) (any, error) {
	cfg, ok := config.(*models.EmailAction)
	if !ok {
		return nil, actions.WrongConfig(models.ActionTypeEmail, config)
	}

	data := execCtx.AsMap()
	to := strings.TrimSpace(template.Interpolate(cfg.To, data))
	subject := template.Interpolate(cfg.Subject, data)

	h.logger.InfoContext(ctx, "Email action skipped",
		"to", to,
		"subject", subject,
		"body_length", len(template.Interpolate(cfg.Body, data)),
		"reason", notConfiguredReason,
	)

	return map[string]any{
		"sent":    false,
		"reason":  notConfiguredReason,
		"to":      to,
		"subject": subject,
	}, nil
}
