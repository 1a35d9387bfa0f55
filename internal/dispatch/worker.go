// Package dispatch drains the transfer queue into the active backend.
//
// The worker sleeps on a payload-free wake channel. Every wake triggers a
// full rescan of pending records, so outstanding wake-ups coalesce without
// losing work and a crashed daemon resumes exactly where it left off.
package dispatch

import (
	"context"
	"errors"
	"time"

	"humed/internal/backend"
	"humed/internal/eventbus"
	"humed/internal/storage"
	"humed/pkg/logx"
)

type Worker struct {
	store   storage.Store
	backend backend.Backend
	bus     *eventbus.Bus
	log     logx.Logger
	wake    chan struct{}
}

func New(store storage.Store, be backend.Backend, bus *eventbus.Bus, log logx.Logger) *Worker {
	return &Worker{
		store:   store,
		backend: be,
		bus:     bus,
		log:     log.With(logx.String("backend", be.Name())),
		wake:    make(chan struct{}, 1),
	}
}

// Signal requests a queue drain. It never blocks; a signal arriving while
// one is already pending is absorbed by the upcoming rescan.
func (w *Worker) Signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue on every wake-up until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	ids, err := w.store.ListPending(ctx)
	if err != nil {
		w.log.Error("list pending failed", logx.Err(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	w.log.Debug("draining queue", logx.Int("pending", len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, id)
	}
}

func (w *Worker) deliver(ctx context.Context, id int64) {
	rec, err := w.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		// Undeliverable but kept on disk for inspection; skip forever.
		w.log.Warn("skipping corrupt transfer", logx.Int64("id", id), logx.Err(err))
		w.publish(eventbus.Event{Kind: eventbus.KindCorrupt, ID: id, Err: err})
		return
	case errors.Is(err, storage.ErrNotFound):
		w.log.Warn("pending transfer vanished", logx.Int64("id", id))
		return
	case err != nil:
		w.log.Error("load transfer failed", logx.Int64("id", id), logx.Err(err))
		return
	}
	if rec.Sent {
		return
	}

	ev := eventbus.Event{
		ID:       id,
		Hostname: rec.Packet.Hume.Hostname,
		Task:     rec.Packet.Hume.Task,
		Level:    rec.Packet.Hume.Level,
	}

	start := time.Now()
	if err := w.backend.Send(ctx, rec); err != nil {
		// Stays pending; the next wake-up or retry sweep tries again.
		w.log.Warn("delivery failed",
			logx.Int64("id", id),
			logx.String("task", ev.Task),
			logx.Err(err))
		ev.Kind = eventbus.KindFailed
		ev.Err = err
		w.publish(ev)
		return
	}

	if err := w.store.MarkSent(ctx, id); err != nil {
		// Delivered but not marked; the record will be re-sent. Backends
		// are idempotent so this is duplicate noise, not data loss.
		w.log.Error("mark sent failed", logx.Int64("id", id), logx.Err(err))
		return
	}
	w.log.Debug("transfer delivered",
		logx.Int64("id", id),
		logx.String("task", ev.Task),
		logx.Duration("took", time.Since(start)))
	ev.Kind = eventbus.KindSent
	w.publish(ev)
}

func (w *Worker) publish(ev eventbus.Event) {
	if w.bus != nil {
		w.bus.Publish(ev)
	}
}
