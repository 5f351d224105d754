package webhookmessage_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/actions/webhookmessage"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/ssrf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureServer(t *testing.T, status int, received *map[string]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(received)
		assert.NoError(t, err)

		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestSlack_RendersTemplate(t *testing.T) {
	var received map[string]string

	server := captureServer(t, http.StatusOK, &received)

	handler := webhookmessage.NewSlack(slog.Default(), server.Client())
	execCtx := models.NewExecutionContext(models.TriggerInput{"eventTitle": "Deploy finished"})

	output, err := handler.Execute(context.Background(), &models.SlackAction{
		WebhookMessage: models.WebhookMessage{
			WebhookURL:      server.URL,
			MessageTemplate: "{{trigger.eventTitle}}",
		},
	}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"text": "Deploy finished"}, received)

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["sent"])
}

func TestDiscord_UsesContentField(t *testing.T) {
	var received map[string]string

	server := captureServer(t, http.StatusNoContent, &received)

	handler := webhookmessage.NewDiscord(slog.Default(), server.Client())
	execCtx := models.NewExecutionContext(models.TriggerInput{"eventTitle": "Build red"})
	execCtx.Outputs["fetch"] = map[string]any{"count": float64(2)}

	_, err := handler.Execute(context.Background(), &models.DiscordAction{
		WebhookMessage: models.WebhookMessage{
			WebhookURL:      server.URL,
			MessageTemplate: "{{trigger.eventTitle}} x{{outputs.fetch.count}} {{outputs.none}}",
		},
	}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"content": "Build red x2 {{outputs.none}}"}, received)
}

func TestSlack_Non2xxIsFailure(t *testing.T) {
	var received map[string]string

	server := captureServer(t, http.StatusForbidden, &received)

	handler := webhookmessage.NewSlack(slog.Default(), server.Client())

	_, err := handler.Execute(context.Background(), &models.SlackAction{
		WebhookMessage: models.WebhookMessage{WebhookURL: server.URL, MessageTemplate: "hi"},
	}, models.NewExecutionContext(nil))
	require.Error(t, err)

	var statusErr *actions.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.True(t, actions.IsPermanent(err))
}

func TestSlack_ConfigErrors(t *testing.T) {
	handler := webhookmessage.NewSlack(slog.Default(), nil)

	_, err := handler.Execute(context.Background(), &models.SlackAction{}, models.NewExecutionContext(nil))
	require.ErrorIs(t, err, actions.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "webhookUrl")

	_, err = handler.Execute(context.Background(), &models.DiscordAction{}, models.NewExecutionContext(nil))
	require.ErrorIs(t, err, actions.ErrInvalidConfig)
}

func TestWebhook_DefaultClientRefusesInternalAddresses(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	for _, handler := range []*webhookmessage.Handler{
		webhookmessage.NewSlack(slog.Default(), nil),
		webhookmessage.NewDiscord(slog.Default(), nil),
	} {
		message := models.WebhookMessage{WebhookURL: server.URL, MessageTemplate: "hi"}

		var config models.ActionConfig = &models.SlackAction{WebhookMessage: message}
		if handler.Type() == models.ActionTypeDiscord {
			config = &models.DiscordAction{WebhookMessage: message}
		}

		_, err := handler.Execute(context.Background(), config, models.NewExecutionContext(nil))
		require.ErrorIs(t, err, ssrf.ErrBlockedAddress)
		assert.True(t, actions.IsSecurityError(err))
		assert.True(t, actions.IsPermanent(err))
	}

	assert.Zero(t, hits.Load(), "loopback webhook must never be reached")
}

func TestSlack_TimesOutSlowWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := server.Client()
	client.Timeout = 50 * time.Millisecond

	handler := webhookmessage.NewSlack(slog.Default(), client)

	began := time.Now()

	_, err := handler.Execute(context.Background(), &models.SlackAction{
		WebhookMessage: models.WebhookMessage{WebhookURL: server.URL, MessageTemplate: "hi"},
	}, models.NewExecutionContext(nil))
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.False(t, actions.IsPermanent(err), "timeouts are retried")
	assert.Less(t, time.Since(began), 2*time.Second)
}
