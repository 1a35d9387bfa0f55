package storage

import (
	"errors"
	"time"

	"humed/internal/hume"
)

var (
	// ErrNotFound is returned for operations on an unknown record id.
	ErrNotFound = errors.New("transfer not found")
	// ErrCorrupt is returned by Get when a stored payload no longer decodes.
	// The record stays pending; callers must skip it rather than fail.
	ErrCorrupt = errors.New("corrupt transfer payload")
)

// Config configures the transfer queue store.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "file": append-only JSONL journals
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one persisted transfer.
//
// Packet is nil when the payload is corrupt; Raw always carries the stored
// bytes for operator inspection.
type Record struct {
	ID         int64
	ReceivedAt time.Time
	Sent       bool
	Packet     *hume.Packet
	Raw        []byte
}
