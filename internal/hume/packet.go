// Package hume defines the wire-level packet model shared by the client
// and the daemon, plus its structural validation rules.
package hume

import (
	"time"
)

// MessageVersion is the current hume message format version.
const MessageVersion = 1

// SupportedVersions is the set of message format versions the daemon accepts.
var SupportedVersions = map[int]bool{1: true}

// TimestampLayout is ISO-8601 with microseconds, as emitted by clients.
const TimestampLayout = "2006-01-02T15:04:05.000000"

type Level string

const (
	LevelInfo     Level = "info"
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
	LevelDebug    Level = "debug"
	// LevelUnknown exists for Nagios compatibility.
	LevelUnknown Level = "unknown"
)

// DefaultLevel is used by clients when no level is given.
const DefaultLevel = LevelInfo

// Levels lists all valid levels in display order.
var Levels = []Level{LevelInfo, LevelOK, LevelWarning, LevelError, LevelCritical, LevelDebug, LevelUnknown}

func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelOK, LevelWarning, LevelError, LevelCritical, LevelDebug, LevelUnknown:
		return true
	}
	return false
}

// ProcessEntry is one ancestor in the sender's process tree, innermost first.
type ProcessEntry struct {
	PID     int      `json:"pid"`
	Cmdline []string `json:"cmdline"`
	Order   int      `json:"order"`
}

// Process carries optional information about how the client was invoked.
type Process struct {
	Tree       []ProcessEntry `json:"tree,omitempty"`
	LineNumber string         `json:"line_number,omitempty"`
}

// Body is the hume-specific part of a packet.
type Body struct {
	Timestamp string            `json:"timestamp"`
	Version   int               `json:"version"`
	Hostname  string            `json:"hostname"`
	Level     Level             `json:"level"`
	Tags      []string          `json:"tags"`
	Task      string            `json:"task"`
	Msg       string            `json:"msg"`
	Extra     map[string]string `json:"extra"`
}

// Packet is the ingestion unit submitted by clients.
//
// Token authenticates the request only; it is stripped before persistence.
type Packet struct {
	Token   string   `json:"token,omitempty"`
	Process *Process `json:"process,omitempty"`
	Hume    Body     `json:"hume"`
}

// Normalize fills optional collections so downstream code never sees nil.
func (p *Packet) Normalize() {
	if p.Hume.Tags == nil {
		p.Hume.Tags = []string{}
	}
	if p.Hume.Extra == nil {
		p.Hume.Extra = map[string]string{}
	}
}

// Timestamp returns the packet timestamp in hume wire format for now.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// EpochSeconds converts the packet timestamp to unix seconds. If the
// timestamp does not parse, the fallback time is used instead.
func (b Body) EpochSeconds(fallback time.Time) int64 {
	if ts, err := time.ParseInLocation(TimestampLayout, b.Timestamp, time.Local); err == nil {
		return ts.Unix()
	}
	// Clients may send offsets; accept RFC3339-ish forms too.
	if ts, err := time.Parse(time.RFC3339Nano, b.Timestamp); err == nil {
		return ts.Unix()
	}
	return fallback.Unix()
}
