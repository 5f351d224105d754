// Package actions holds what the action handlers share: the error taxonomy and HTTP plumbing.
package actions

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dukex/eventwire/pkg/models"
	"github.com/dukex/eventwire/pkg/ssrf"
)

var (
	// ErrBlockedURL is returned when a request target resolves to an internal address.
	ErrBlockedURL = errors.New("request to internal address blocked")

	// ErrInvalidConfig is matched by every ConfigError.
	ErrInvalidConfig = errors.New("invalid action configuration")
)

// ConfigError reports a missing or malformed action configuration field.
type ConfigError struct {
	Action  models.ActionType
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s action: %s", e.Action, e.Message)
	}

	return fmt.Sprintf("%s action: %s %s", e.Action, e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// MissingField builds the ConfigError for a required field left empty.
func MissingField(action models.ActionType, field string) *ConfigError {
	return &ConfigError{Action: action, Field: field, Message: "is required"}
}

// WrongConfig builds the ConfigError for a config of an unexpected variant.
func WrongConfig(action models.ActionType, config models.ActionConfig) *ConfigError {
	return &ConfigError{Action: action, Message: fmt.Sprintf("unexpected config %T", config)}
}

// HTTPStatusError is a non-2xx response from a remote endpoint.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsPermanent reports whether retrying err cannot succeed.
// Blocked targets, configuration errors and client errors other than 408 and 429 are permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBlockedURL) || errors.Is(err, ssrf.ErrBlockedAddress) || errors.Is(err, ErrInvalidConfig) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode

		return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
	}

	return false
}

// IsSecurityError reports whether err came from the address guard.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrBlockedURL) || errors.Is(err, ssrf.ErrBlockedAddress)
}
