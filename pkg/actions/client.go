package actions

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds every outbound call made by an action.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
	maxErrorBody     = 512
)

// NewHTTPClient returns a client with the action timeout. A nil transport uses http.DefaultTransport.
func NewHTTPClient(transport http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}

// ReadResponse reads a bounded response body and converts non-2xx statuses into HTTPStatusError.
func ReadResponse(url string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}

		return body, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}
