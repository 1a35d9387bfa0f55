package backend

import (
	"context"
	"errors"
	"fmt"
	"log/syslog"
	"sync"

	"humed/internal/config"
	"humed/internal/render"
	"humed/internal/storage"
	"humed/pkg/logx"
)

const defaultSyslogTag = "humed"

// syslogBackend covers both local syslog and remote rsyslog. The writer is
// dialed lazily and redialed after a failed write so a restarted collector
// is picked up on the next attempt.
type syslogBackend struct {
	name    string
	network string // empty for local
	raddr   string
	tag     string

	res *render.Resolver
	log logx.Logger

	mu sync.Mutex
	w  *syslog.Writer

	humedHost string
}

func newSyslog(cfg *config.SyslogConfig, deps Deps) *syslogBackend {
	tag := defaultSyslogTag
	base := "syslog"
	if cfg != nil {
		if cfg.Tag != "" {
			tag = cfg.Tag
		}
		if cfg.TemplateBase != "" {
			base = cfg.TemplateBase
		}
	}
	return &syslogBackend{
		name:      "syslog",
		tag:       tag,
		res:       resolver(deps, base),
		log:       deps.Log,
		humedHost: deps.HumedHostname,
	}
}

func newRsyslog(cfg *config.RsyslogConfig, deps Deps) *syslogBackend {
	tag := defaultSyslogTag
	if cfg.Tag != "" {
		tag = cfg.Tag
	}
	base := "rsyslog"
	if cfg.TemplateBase != "" {
		base = cfg.TemplateBase
	}
	return &syslogBackend{
		name:      "rsyslog",
		network:   cfg.Proto,
		raddr:     fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		tag:       tag,
		res:       resolver(deps, base),
		log:       deps.Log,
		humedHost: deps.HumedHostname,
	}
}

func (b *syslogBackend) Name() string { return b.name }

func (b *syslogBackend) Send(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pkt := rec.Packet

	line, err := b.res.Render(ctx, b.humedHost, pkt)
	if err != nil {
		if !errors.Is(err, render.ErrNoTemplate) {
			b.log.Warn("template render failed, using plain line",
				logx.String("task", pkt.Hume.Task), logx.Err(err))
		}
		line = syslogLine(pkt)
	}

	w, err := b.writer()
	if err != nil {
		return fmt.Errorf("backend %s: dial: %w", b.name, err)
	}
	if err := emit(w, SyslogPriority(pkt.Hume.Level), line); err != nil {
		b.reset()
		return fmt.Errorf("backend %s: write: %w", b.name, err)
	}
	return nil
}

func (b *syslogBackend) writer() (*syslog.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w != nil {
		return b.w, nil
	}
	w, err := syslog.Dial(b.network, b.raddr, syslog.LOG_INFO|syslog.LOG_DAEMON, b.tag)
	if err != nil {
		return nil, err
	}
	b.w = w
	return w, nil
}

func (b *syslogBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w != nil {
		b.w.Close()
		b.w = nil
	}
}

func emit(w *syslog.Writer, prio syslog.Priority, line string) error {
	switch prio {
	case syslog.LOG_WARNING:
		return w.Warning(line)
	case syslog.LOG_ERR:
		return w.Err(line)
	case syslog.LOG_CRIT:
		return w.Crit(line)
	case syslog.LOG_DEBUG:
		return w.Debug(line)
	default:
		return w.Info(line)
	}
}

// Close releases the syslog connection.
func (b *syslogBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w == nil {
		return nil
	}
	err := b.w.Close()
	b.w = nil
	return err
}
