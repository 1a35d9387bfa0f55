// Package client implements the sending side of the relay protocol: build a
// packet, push it over TCP, wait briefly for the ack.
package client

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"humed/internal/hume"
)

// DefaultAddr is where a local daemon listens.
const DefaultAddr = "127.0.0.1:1984"

// DefaultTimeout bounds the wait for the daemon's reply. Expiry means the
// outcome is unknown, not failed; the daemon may have queued the packet.
const DefaultTimeout = 1000 * time.Millisecond

// Options shape a packet built by NewPacket.
type Options struct {
	Level    hume.Level
	Task     string
	Tags     []string
	Extra    map[string]string
	Hostname string
	Token    string
	// ProcessTree attaches the caller's process ancestry for debugging
	// fire-and-forget cron jobs.
	ProcessTree bool
}

// NewPacket assembles a packet from msg and opts, filling defaults the way
// the daemon expects them.
func NewPacket(msg string, opts Options) (*hume.Packet, error) {
	level := opts.Level
	if level == "" {
		level = hume.DefaultLevel
	}
	if !level.Valid() {
		return nil, fmt.Errorf("client: invalid level %q", level)
	}
	hostname := opts.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("client: detect hostname: %w", err)
		}
		hostname = h
	}
	if !hume.IsValidHostname(hostname) {
		return nil, fmt.Errorf("client: invalid hostname %q", hostname)
	}

	pkt := &hume.Packet{
		Token: opts.Token,
		Hume: hume.Body{
			Timestamp: hume.Timestamp(time.Now()),
			Version:   hume.MessageVersion,
			Hostname:  hostname,
			Level:     level,
			Tags:      opts.Tags,
			Task:      opts.Task,
			Msg:       msg,
			Extra:     opts.Extra,
		},
	}
	pkt.Normalize()

	if opts.ProcessTree {
		proc := &hume.Process{Tree: processTree(os.Getpid())}
		if line := os.Getenv("LINENO"); line != "" {
			proc.LineNumber = line
		}
		pkt.Process = proc
	}
	return pkt, nil
}

// Send writes the packet as one JSON line and reads one reply line. It
// returns the daemon's reply. A reply timeout returns an error with ok
// false; the packet may still have been received.
func Send(addr string, pkt *hume.Packet, timeout time.Duration) (string, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	raw, err := encodePacket(pkt)
	if err != nil {
		return "", err
	}
	if _, err := conn.Write(raw); err != nil {
		return "", fmt.Errorf("client: send: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("client: awaiting reply: %w", err)
	}
	return strings.TrimRight(reply, "\n"), nil
}
