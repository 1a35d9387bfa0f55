// Package plugin lets embedders register custom transfer methods next to
// the built-in ones. A plugin is selected by configuring its name as the
// transfer_method and receives its own raw config block.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"humed/internal/hume"
)

// Sender delivers one packet to an external system. Implementations must be
// idempotent: the daemon delivers at least once and may retry after a crash.
type Sender interface {
	// Name is the transfer_method value that selects this plugin.
	Name() string
	// Send delivers the packet. cfg is the plugin's config block, raw and
	// untouched; decode it however the plugin sees fit.
	Send(ctx context.Context, pkt *hume.Packet, cfg json.RawMessage) error
}

// Registry holds the senders available to a daemon instance. Register before
// the daemon starts; lookups are concurrency-safe.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register adds a sender. Registering a duplicate or reserved name fails.
func (r *Registry) Register(s Sender) error {
	name := s.Name()
	if name == "" {
		return fmt.Errorf("plugin: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.senders[name]; ok {
		return fmt.Errorf("plugin: %q already registered", name)
	}
	r.senders[name] = s
	return nil
}

// Lookup returns the sender registered under name.
func (r *Registry) Lookup(name string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[name]
	return s, ok
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.senders))
	for n := range r.senders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
