package httpcall_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/actions/httpcall"
	"github.com/dukex/eventwire/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)

	return nil, errors.New("transport must not be reached")
}

func allowAll(string) bool { return false }

func TestHandler_BlocksMetadataEndpoint(t *testing.T) {
	transport := &countingTransport{}
	handler := httpcall.New(slog.Default(), httpcall.WithClient(&http.Client{Transport: transport}))

	_, err := handler.Execute(context.Background(), &models.HTTPAction{
		HTTPMethod: "GET",
		Endpoint:   "http://169.254.169.254/",
	}, models.NewExecutionContext(nil))

	require.ErrorIs(t, err, actions.ErrBlockedURL)
	assert.True(t, actions.IsSecurityError(err))
	assert.True(t, actions.IsPermanent(err))
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestHandler_BlocksInterpolatedInternalEndpoint(t *testing.T) {
	transport := &countingTransport{}
	handler := httpcall.New(slog.Default(), httpcall.WithClient(&http.Client{Transport: transport}))

	execCtx := models.NewExecutionContext(models.TriggerInput{"host": "10.0.0.5"})

	_, err := handler.Execute(context.Background(), &models.HTTPAction{
		Endpoint: "http://{{trigger.host}}/admin",
	}, execCtx)

	require.ErrorIs(t, err, actions.ErrBlockedURL)
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestHandler_PostsInterpolatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/events/ev-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"title":"Deploy finished"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true, "id": 7}`))
	}))
	defer server.Close()

	handler := httpcall.New(slog.Default(), httpcall.WithClient(server.Client()), httpcall.WithURLGuard(allowAll))
	execCtx := models.NewExecutionContext(models.TriggerInput{"eventId": "ev-1", "eventTitle": "Deploy finished"})

	output, err := handler.Execute(context.Background(), &models.HTTPAction{
		Endpoint: server.URL + "/events/{{trigger.eventId}}",
		Headers:  map[string]string{"X-Token": "secret"},
		HTTPBody: `{"title":"{{trigger.eventTitle}}"}`,
	}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"accepted": true, "id": float64(7)}, output)
}

func TestHandler_GetOmitsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Empty(t, body)

		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	handler := httpcall.New(slog.Default(), httpcall.WithClient(server.Client()), httpcall.WithURLGuard(allowAll))

	output, err := handler.Execute(context.Background(), &models.HTTPAction{
		HTTPMethod: "get",
		Endpoint:   server.URL,
		HTTPBody:   `{"ignored": true}`,
	}, models.NewExecutionContext(nil))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": http.StatusOK, "body": "plain text"}, output)
}

func TestHandler_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	handler := httpcall.New(slog.Default(), httpcall.WithClient(server.Client()), httpcall.WithURLGuard(allowAll))

	_, err := handler.Execute(context.Background(), &models.HTTPAction{Endpoint: server.URL}, models.NewExecutionContext(nil))

	var statusErr *actions.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.False(t, actions.IsPermanent(err))
}

func TestHandler_RequiresEndpoint(t *testing.T) {
	handler := httpcall.New(slog.Default())

	_, err := handler.Execute(context.Background(), &models.HTTPAction{}, models.NewExecutionContext(nil))
	require.ErrorIs(t, err, actions.ErrInvalidConfig)

	_, err = handler.Execute(context.Background(), &models.EmailAction{To: "x"}, models.NewExecutionContext(nil))
	require.ErrorIs(t, err, actions.ErrInvalidConfig)
}

func TestHandler_AppliesPerCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	handler := httpcall.New(slog.Default(),
		httpcall.WithClient(server.Client()),
		httpcall.WithURLGuard(allowAll),
		httpcall.WithTimeout(50*time.Millisecond),
	)

	began := time.Now()

	_, err := handler.Execute(context.Background(), &models.HTTPAction{
		HTTPMethod: "GET",
		Endpoint:   server.URL,
	}, models.NewExecutionContext(nil))
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.False(t, actions.IsPermanent(err), "timeouts are retried")
	assert.Less(t, time.Since(began), 2*time.Second)
}
