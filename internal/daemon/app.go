// Package daemon assembles the relay: config, storage, backend, listener,
// worker and metrics, supervised as one unit with ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"humed/internal/backend"
	"humed/internal/config"
	"humed/internal/dispatch"
	"humed/internal/eventbus"
	"humed/internal/hume"
	"humed/internal/listener"
	"humed/internal/plugin"
	"humed/internal/render"
	"humed/internal/runtime/supervisor"
	"humed/internal/status"
	"humed/internal/storage"
	"humed/pkg/logx"
)

// Startup failure categories, mapped to distinct exit codes so unit files
// and wrapper scripts can tell misconfiguration from bind conflicts.
var (
	ErrConfig = errors.New("configuration error")
	ErrBind   = errors.New("bind error")
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig):
		return 2
	case errors.Is(err, ErrBind):
		return 3
	default:
		return 1
	}
}

// App is one assembled daemon instance.
type App struct {
	// OnReady, when set, is called once after all sockets are bound and
	// the components are running. Used for the systemd readiness notify.
	OnReady func()

	cfg      *config.Config
	manager  *config.Manager
	logs     *logx.Service
	log      logx.Logger
	hostname string

	store    storage.Store
	backend  backend.Backend
	bus      *eventbus.Bus
	table    *status.Table
	worker   *dispatch.Worker
	listener *listener.Listener
	metrics  *status.Server
	cron     *cron.Cron
}

// New loads the config at cfgPath and wires every component. Nothing is
// started yet; a returned error is a config-category failure.
func New(cfgPath string, registry *plugin.Registry) (*App, error) {
	manager := config.NewManager(cfgPath)
	manager.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	manager.SetLogger(log.With(logx.String("component", "config")))

	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("%w: detect hostname: %v", ErrConfig, err)
		}
		hostname = h
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(0),
	})
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	be, err := backend.New(cfg, backend.Deps{
		HumedHostname: hostname,
		TemplatesDir:  cfg.TemplatesDir,
		Registry:      registry,
		Log:           log,
	})
	if err != nil {
		store.Close()
		logs.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	app := &App{
		cfg:      cfg,
		manager:  manager,
		logs:     logs,
		log:      log,
		hostname: hostname,
		store:    store,
		backend:  be,
		bus:      eventbus.New(),
		table:    status.NewTable(),
	}
	app.worker = dispatch.New(store, be, app.bus, log)
	app.listener = listener.New(listener.Params{
		Addr:      cfg.Listen,
		AuthToken: cfg.AuthToken,
		Store:     store,
		Bus:       app.bus,
		Observe:   app.table.Observe,
		Wake:      app.worker.Signal,
		Log:       log,
	})
	if cfg.Metrics.Enabled {
		app.metrics = status.NewServer(cfg.Metrics.Addr, cfg.Metrics.Token, app.table, log)
	}
	return app, nil
}

// Run starts everything and blocks until ctx is canceled or a component
// fails fatally, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting humed",
		logx.String("hostname", a.hostname),
		logx.String("listen", a.cfg.Listen),
		logx.String("transfer_method", a.backend.Name()),
		logx.Strings("templates", render.AvailableBases(a.cfg.TemplatesDir)))

	// Bind failures surface before anything else starts.
	if err := a.listener.Listen(); err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	if a.metrics != nil {
		if err := a.metrics.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrBind, err)
		}
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	sup.Go("listener", a.listener.Run)
	sup.Go("worker", a.worker.Run)

	// Subscribe before anything can publish so startup events are counted.
	events, stopEvents := a.bus.Subscribe(256)
	sup.Go("events", func(ctx context.Context) error {
		defer stopEvents()
		return a.consumeEvents(ctx, events)
	})
	sup.GoRestart("config-watch", a.manager.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	sup.Go("config-apply", a.applyLoggingReloads)

	if a.cfg.RetrySweep != "" {
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(a.cfg.RetrySweep, a.worker.Signal); err != nil {
			sup.Cancel()
			sup.Wait(context.Background())
			return fmt.Errorf("%w: retry_sweep: %v", ErrConfig, err)
		}
		a.cron.Start()
	}

	// Drain whatever a previous run left behind, then announce the start
	// through the normal pipeline so the backend sees it too.
	a.worker.Signal()
	a.announceStartup(sup.Context())
	if a.OnReady != nil {
		a.OnReady()
	}

	<-sup.Context().Done()
	return a.shutdown(sup)
}

func (a *App) shutdown(sup *supervisor.Supervisor) error {
	a.log.Info("shutting down")
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Stop(waitCtx); err != nil {
		a.log.Warn("supervisor drain", logx.Err(err))
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(waitCtx); err != nil {
			a.log.Warn("metrics stop", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}

	err := sup.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("bye")
	a.logs.Close()
	return err
}

// consumeEvents feeds delivery lifecycle events into the counters. The
// last-seen gauge is written inline by the listener; the bus may shed
// events under load, which for counters is an acceptable undercount.
func (a *App) consumeEvents(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev.Kind {
			case eventbus.KindQueued:
				a.table.IncQueued()
			case eventbus.KindSent:
				a.table.IncSent()
			case eventbus.KindFailed:
				a.table.IncFailed()
			case eventbus.KindCorrupt:
				a.table.IncCorrupt()
			}
		}
	}
}

// applyLoggingReloads hot-applies the logging section of config changes.
// Everything else is immutable until restart; a changed value is noted so
// operators know a restart is due.
func (a *App) applyLoggingReloads(ctx context.Context) error {
	updates := a.manager.Subscribe(4)
	defer a.manager.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg := <-updates:
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
			if cfg.Listen != a.cfg.Listen || cfg.TransferMethod != a.cfg.TransferMethod {
				a.log.Warn("listener and backend changes take effect on restart")
			}
		}
	}
}

// announceStartup pushes a synthetic packet through the regular pipeline.
// It doubles as an end-to-end self test: if it reaches the backend, the
// whole chain works.
func (a *App) announceStartup(ctx context.Context) {
	pkt := &hume.Packet{
		Hume: hume.Body{
			Timestamp: hume.Timestamp(time.Now()),
			Version:   hume.MessageVersion,
			Hostname:  a.hostname,
			Level:     hume.LevelDebug,
			Tags:      []string{},
			Task:      "HUMED_STARTUP",
			Msg:       "Humed is ready to serve",
			Extra:     map[string]string{},
		},
	}
	if !hume.IsValidHostname(a.hostname) {
		a.log.Warn("hostname fails validation, skipping startup packet",
			logx.String("hostname", a.hostname))
		return
	}
	id, err := a.store.Add(ctx, pkt)
	if err != nil {
		a.log.Warn("startup packet not queued", logx.Err(err))
		return
	}
	a.table.Observe(pkt.Hume.Hostname, pkt.Hume.Task, pkt.Hume.Level, pkt.Hume.EpochSeconds(time.Now()))
	a.bus.Publish(eventbus.Event{
		Kind:     eventbus.KindQueued,
		ID:       id,
		Hostname: pkt.Hume.Hostname,
		Task:     pkt.Hume.Task,
		Level:    pkt.Hume.Level,
	})
	a.worker.Signal()
}

// ListenerAddr reports the bound ingestion address, for tests and logs.
func (a *App) ListenerAddr() string { return a.listener.Addr() }

// MetricsAddr reports the bound metrics address, empty when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}
