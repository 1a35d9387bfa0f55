package storage

import (
	"context"
	"fmt"

	"humed/internal/hume"
)

// Store is the durable transfer queue. Records are appended once, flipped to
// sent exactly once, and never deleted. Delivery workers may observe a record
// more than once; the flip to sent only ever goes false to true.
type Store interface {
	// Add persists a packet and returns its queue id. The packet's auth
	// token is stripped before serialization.
	Add(ctx context.Context, pkt *hume.Packet) (int64, error)
	// MarkSent flips a record to sent. Marking an already-sent record is
	// a no-op; an unknown id yields ErrNotFound.
	MarkSent(ctx context.Context, id int64) error
	// ListPending returns the ids of unsent records in insertion order.
	ListPending(ctx context.Context) ([]int64, error)
	// Get loads one record. A payload that no longer decodes yields the
	// record (Packet nil) together with ErrCorrupt.
	Get(ctx context.Context, id int64) (Record, error)
	Close() error
}

// Open creates a Store for the configured driver. An empty driver selects
// sqlite.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg)
	case "file":
		return openFile(cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
