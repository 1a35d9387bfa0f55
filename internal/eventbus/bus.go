// Package eventbus carries delivery lifecycle events from the ingest and
// dispatch paths to in-process consumers such as the status table.
//
// Publishing never blocks: a subscriber that stops draining loses events
// rather than stalling delivery.
package eventbus

import (
	"sync"
	"time"

	"humed/internal/hume"
)

// Kind classifies a transfer lifecycle event.
type Kind string

const (
	// KindQueued fires when a packet has been persisted.
	KindQueued Kind = "queued"
	// KindSent fires after a backend accepted a transfer.
	KindSent Kind = "sent"
	// KindFailed fires when a delivery attempt failed; the record stays
	// pending and will be retried.
	KindFailed Kind = "failed"
	// KindCorrupt fires when a stored payload no longer decodes.
	KindCorrupt Kind = "corrupt"
)

// Event is one transfer lifecycle notification.
type Event struct {
	Kind     Kind
	ID       int64
	Hostname string
	Task     string
	Level    hume.Level
	At       time.Time
	Err      error
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned cancel func removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber whose buffer has room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
