// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/eventwire/pkg/actions"
	"github.com/dukex/eventwire/pkg/actions/condition"
	"github.com/dukex/eventwire/pkg/actions/email"
	"github.com/dukex/eventwire/pkg/actions/httpcall"
	"github.com/dukex/eventwire/pkg/actions/webhookmessage"
	"github.com/dukex/eventwire/pkg/registry"
	"github.com/dukex/eventwire/pkg/ssrf"
)

// registerNativeActions registers the built-in handlers. Every outbound call dials through the SSRF guard.
func registerNativeActions(reg *registry.Registry, logger *slog.Logger) {
	webhooks := actions.NewHTTPClient(ssrf.NewSafeTransport())

	reg.Register(webhookmessage.NewSlack(logger, webhooks))
	reg.Register(webhookmessage.NewDiscord(logger, webhooks))
	reg.Register(email.New(logger))
	reg.Register(httpcall.New(logger))
	reg.Register(condition.New(logger))
}

func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeActions(reg, logger)

	return reg
}
