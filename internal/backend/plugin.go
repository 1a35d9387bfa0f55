package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"humed/internal/plugin"
	"humed/internal/storage"
	"humed/pkg/logx"
)

// pluginBackend adapts a registered plugin.Sender to the Backend interface.
// A panic inside the plugin counts as a failed attempt, never a crash; the
// record stays pending like any other delivery failure.
type pluginBackend struct {
	sender plugin.Sender
	cfg    json.RawMessage
	log    logx.Logger
}

func newPluginBackend(sender plugin.Sender, cfg json.RawMessage, deps Deps) *pluginBackend {
	return &pluginBackend{sender: sender, cfg: cfg, log: deps.Log}
}

func (b *pluginBackend) Name() string { return b.sender.Name() }

func (b *pluginBackend) Send(ctx context.Context, rec storage.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("plugin panic",
				logx.String("plugin", b.sender.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("backend plugin %s: panic: %v", b.sender.Name(), r)
		}
	}()
	return b.sender.Send(ctx, rec.Packet, b.cfg)
}
