// Package webhookmessage posts rendered messages to Slack and Discord incoming webhooks.
package webhookmessage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/ssrf"
	"github.com/dukex/eventwire/pkg/template"
)

// Handler sends one message per execution to the configured webhook.
type Handler struct {
	platform models.ActionType
	client   *http.Client
	logger   *slog.Logger
}

// NewSlack posts to Slack. A nil client dials through ssrf.NewSafeTransport.
func NewSlack(logger *slog.Logger, client *http.Client) *Handler {
	return newHandler(models.ActionTypeSlack, logger, client)
}

func NewDiscord(logger *slog.Logger, client *http.Client) *Handler {
	return newHandler(models.ActionTypeDiscord, logger, client)
}

func newHandler(platform models.ActionType, logger *slog.Logger, client *http.Client) *Handler {
	if client == nil {
		client = actions.NewHTTPClient(ssrf.NewSafeTransport())
	}

	return &Handler{
		platform: platform,
		client:   client,
		logger:   logger.With("module", string(platform)+"_action"),
	}
}

func (h *Handler) Type() models.ActionType {
	return h.platform
}

func (h *Handler) Name() string {
	if h.platform == models.ActionTypeDiscord {
		return "Discord message"
	}

	return "Slack message"
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"webhookUrl"},
		"properties": map[string]any{
			"webhookUrl": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Incoming webhook URL",
			},
			"messageTemplate": map[string]any{
				"type":        "string",
				"description": "Message text. Supports {{trigger.*}} and {{outputs.<nodeId>.*}} placeholders.",
				"examples":    []any{"New event: {{trigger.eventTitle}}"},
			},
		},
	}
}

// Execute renders the template and posts it to the webhook.
func (h *Handler) Execute(ctx context.Context, config models.ActionConfig, execCtx *models.ExecutionContext) (any, error) {
	message, err := h.message(config)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(message.WebhookURL) == "" {
		return nil, actions.MissingField(h.platform, "webhookUrl")
	}

	text := template.Interpolate(message.MessageTemplate, execCtx.AsMap())

	payload, err := json.Marshal(h.payload(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", h.platform, err)
	}

	ctx, cancel := context.WithTimeout(ctx, actions.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, message.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &actions.ConfigError{Action: h.platform, Field: "webhookUrl", Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")

	h.logger.DebugContext(ctx, "Posting webhook message")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s webhook request failed: %w", h.platform, err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	_, err = actions.ReadResponse(message.WebhookURL, resp)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sent":       true,
		"platform":   string(h.platform),
		"statusCode": resp.StatusCode,
		"message":    text,
	}, nil
}

func (h *Handler) message(config models.ActionConfig) (models.WebhookMessage, error) {
	switch cfg := config.(type) {
	case *models.SlackAction:
		if h.platform == models.ActionTypeSlack {
			return cfg.WebhookMessage, nil
		}
	case *models.DiscordAction:
		if h.platform == models.ActionTypeDiscord {
			return cfg.WebhookMessage, nil
		}
	}

	return models.WebhookMessage{}, actions.WrongConfig(h.platform, config)
}

func (h *Handler) payload(text string) map[string]string {
	if h.platform == models.ActionTypeDiscord {
		return map[string]string{"content": text}
	}

	return map[string]string{"text": text}
}
