package actions_test

import (
	"testing"
	"time"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/ssrf"
	"github.com/stretchr/testify/assert"
)

func TestNewHTTPClient(t *testing.T) {
	transport := ssrf.NewSafeTransport()
	client := actions.NewHTTPClient(transport)

	assert.Equal(t, actions.DefaultTimeout, client.Timeout)
	assert.Equal(t, 10*time.Second, actions.DefaultTimeout)
	assert.Same(t, transport, client.Transport)
}
