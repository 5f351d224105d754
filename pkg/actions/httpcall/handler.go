// Package httpcall performs user-configured HTTP requests behind the internal address guard.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/ssrf"
	"github.com/dukex/eventwire/pkg/template"
)

// URLGuard reports whether a URL must be refused.
type URLGuard func(rawURL string) bool

type Handler struct {
	client  *http.Client
	blocked URLGuard
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Handler)

// WithClient replaces the default client, which dials through ssrf.NewSafeTransport.
func WithClient(client *http.Client) Option {
	return func(h *Handler) {
		h.client = client
	}
}

// WithTimeout bounds each request. It defaults to actions.DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithURLGuard replaces ssrf.IsInternalURL as the pre-flight check.
func WithURLGuard(guard URLGuard) Option {
	return func(h *Handler) {
		h.blocked = guard
	}
}

func New(logger *slog.Logger, opts ...Option) *Handler {
	handler := &Handler{
		client:  actions.NewHTTPClient(ssrf.NewSafeTransport()),
		blocked: ssrf.IsInternalURL,
		timeout: actions.DefaultTimeout,
		logger:  logger.With("module", "http_action"),
	}

	for _, opt := range opts {
		opt(handler)
	}

	return handler
}

func (h *Handler) Type() models.ActionType {
	return models.ActionTypeHTTP
}

func (h *Handler) Name() string {
	return "HTTP request"
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"endpoint"},
		"properties": map[string]any{
			"httpMethod": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"endpoint": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Target URL. Supports {{...}} placeholders.",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"httpBody": map[string]any{
				"type":        "string",
				"description": "Request body. Supports {{...}} placeholders. Ignored for GET and HEAD.",
			},
		},
	}
}

// Execute sends the request and returns the decoded JSON response.
func (h *Handler) Execute(ctx context.Context, config models.ActionConfig, execCtx *models.ExecutionContext) (any, error) {
	cfg, ok := config.(*models.HTTPAction)
	if !ok {
		return nil, actions.WrongConfig(models.ActionTypeHTTP, config)
	}

	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, actions.MissingField(models.ActionTypeHTTP, "endpoint")
	}

	data := execCtx.AsMap()
	endpoint := strings.TrimSpace(template.Interpolate(cfg.Endpoint, data))

	if h.blocked(endpoint) {
		h.logger.WarnContext(ctx, "Refusing request to internal address", "endpoint", endpoint)

		return nil, fmt.Errorf("%w: %s", actions.ErrBlockedURL, endpoint)
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.HTTPMethod))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead && cfg.HTTPBody != "" {
		body = strings.NewReader(template.Interpolate(cfg.HTTPBody, data))
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &actions.ConfigError{Action: models.ActionTypeHTTP, Field: "endpoint", Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range cfg.Headers {
		req.Header.Set(key, template.Interpolate(value, data))
	}

	h.logger.DebugContext(ctx, "Sending HTTP request", "method", method, "endpoint", endpoint)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request to %s failed: %w", endpoint, err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := actions.ReadResponse(endpoint, resp)
	if err != nil {
		return nil, err
	}

	return decode(resp.StatusCode, raw), nil
}

func decode(status int, raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 {
		var parsed any

		err := json.Unmarshal(trimmed, &parsed)
		if err == nil {
			return parsed
		}
	}

	return map[string]any{
		"status": status,
		"body":   string(raw),
	}
}
