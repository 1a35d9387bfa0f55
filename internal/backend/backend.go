// Package backend implements the delivery side of the relay: each backend
// takes a persisted transfer and pushes it to one external system.
//
// Send must be safe to retry. The queue delivers at least once; a backend
// that is not idempotent will produce duplicates downstream after a crash
// between delivery and the sent mark.
package backend

import (
	"context"
	"fmt"

	"humed/internal/config"
	"humed/internal/plugin"
	"humed/internal/render"
	"humed/internal/storage"
	"humed/pkg/logx"
)

// Backend delivers persisted transfers. A nil return marks the record sent;
// any error leaves it pending for a later attempt.
type Backend interface {
	Name() string
	Send(ctx context.Context, rec storage.Record) error
}

// Deps carries the shared collaborators backends draw from.
type Deps struct {
	// HumedHostname identifies this relay in outbound messages.
	HumedHostname string
	TemplatesDir  string
	Registry      *plugin.Registry
	Log           logx.Logger
}

// New builds the backend selected by cfg.TransferMethod. Built-in methods
// are a closed set; anything else is resolved against the plugin registry.
func New(cfg *config.Config, deps Deps) (Backend, error) {
	switch cfg.TransferMethod {
	case "syslog":
		return newSyslog(cfg.Syslog, deps), nil
	case "rsyslog":
		if cfg.Rsyslog == nil {
			return nil, fmt.Errorf("backend: rsyslog config missing")
		}
		return newRsyslog(cfg.Rsyslog, deps), nil
	case "logfwd":
		if cfg.Logfwd == nil {
			return nil, fmt.Errorf("backend: logfwd config missing")
		}
		return newLogfwd(cfg.Logfwd, deps), nil
	case "webhook":
		if cfg.Webhook == nil {
			return nil, fmt.Errorf("backend: webhook config missing")
		}
		return newWebhook(cfg.Webhook, deps), nil
	}

	if deps.Registry != nil {
		if sender, ok := deps.Registry.Lookup(cfg.TransferMethod); ok {
			raw := cfg.Plugins[cfg.TransferMethod]
			if !raw.Enabled {
				return nil, fmt.Errorf("backend: plugin %q is not enabled", cfg.TransferMethod)
			}
			return newPluginBackend(sender, raw.Config, deps), nil
		}
	}
	return nil, fmt.Errorf("backend: unknown transfer method %q", cfg.TransferMethod)
}

// resolver builds a template resolver for a backend's configured base.
func resolver(deps Deps, base string) *render.Resolver {
	return render.NewResolver(deps.TemplatesDir, base)
}
