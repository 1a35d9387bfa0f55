// Package status keeps the in-memory last-seen table and serves it as a
// Prometheus-style text exposition.
//
// The table is rebuilt from live traffic only; it resets on restart. The
// durable queue is the source of truth for delivery, not this table.
package status

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"humed/internal/hume"
)

type key struct {
	hostname string
	task     string
}

type entry struct {
	level hume.Level
	epoch int64
}

// Table records the last level and timestamp seen per (hostname, task),
// plus delivery counters. Writers are the listener and the dispatch worker;
// the reader is the metrics handler. Last write wins per key.
type Table struct {
	mu      sync.Mutex
	entries map[key]entry

	queued  uint64
	sent    uint64
	failed  uint64
	corrupt uint64
}

func NewTable() *Table {
	return &Table{entries: make(map[key]entry)}
}

// Observe records a valid packet's latest state.
func (t *Table) Observe(hostname, task string, level hume.Level, epoch int64) {
	t.mu.Lock()
	t.entries[key{hostname, task}] = entry{level: level, epoch: epoch}
	t.mu.Unlock()
}

func (t *Table) IncQueued()  { t.inc(&t.queued) }
func (t *Table) IncSent()    { t.inc(&t.sent) }
func (t *Table) IncFailed()  { t.inc(&t.failed) }
func (t *Table) IncCorrupt() { t.inc(&t.corrupt) }

func (t *Table) inc(c *uint64) {
	t.mu.Lock()
	*c++
	t.mu.Unlock()
}

// RenderMetrics produces the text exposition. Output is sorted so scrapes
// are deterministic.
func (t *Table) RenderMetrics() string {
	t.mu.Lock()
	keys := make([]key, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	snapshot := make(map[key]entry, len(t.entries))
	for k, e := range t.entries {
		snapshot[k] = e
	}
	queued, sent, failed, corrupt := t.queued, t.sent, t.failed, t.corrupt
	t.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].hostname != keys[j].hostname {
			return keys[i].hostname < keys[j].hostname
		}
		return keys[i].task < keys[j].task
	})

	var sb strings.Builder
	sb.WriteString("# HELP hume_task_last_ts_seconds Last seen timestamp per hostname and task.\n")
	sb.WriteString("# TYPE hume_task_last_ts_seconds gauge\n")
	for _, k := range keys {
		e := snapshot[k]
		// %q doubles as label escaping: embedded quotes and backslashes
		// come out in the form Prometheus expects.
		fmt.Fprintf(&sb, "hume_task_last_ts_seconds{hostname=%q,task=%q,level=%q} %d\n",
			k.hostname, k.task, string(e.level), e.epoch)
	}

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	counter("hume_transfers_queued_total", "Packets persisted to the transfer queue.", queued)
	counter("hume_transfers_sent_total", "Transfers delivered to the backend.", sent)
	counter("hume_transfers_failed_total", "Delivery attempts that failed.", failed)
	counter("hume_transfers_corrupt_skipped_total", "Stored payloads skipped as undecodable.", corrupt)
	return sb.String()
}
