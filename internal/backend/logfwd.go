package backend

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"humed/internal/config"
	"humed/internal/storage"
	"humed/pkg/logx"
)

const logfwdWriteTimeout = 5 * time.Second

// logfwdBackend forwards each transfer as one structured JSON log event to a
// log pipeline collector. The event is rendered into a buffer first; only
// the socket write decides success, since zerolog swallows writer errors.
type logfwdBackend struct {
	network string
	addr    string

	log       logx.Logger
	humedHost string

	mu   sync.Mutex
	conn net.Conn
}

func newLogfwd(cfg *config.LogfwdConfig, deps Deps) *logfwdBackend {
	network := cfg.Proto
	if network == "" {
		network = "tcp"
	}
	return &logfwdBackend{
		network:   network,
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		log:       deps.Log,
		humedHost: deps.HumedHostname,
	}
}

func (b *logfwdBackend) Name() string { return "logfwd" }

func (b *logfwdBackend) Send(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pkt := rec.Packet

	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Timestamp().Logger()
	ev := logger.WithLevel(ZerologLevel(pkt.Hume.Level)).
		Str("humed_hostname", b.humedHost).
		Str("hume_hostname", pkt.Hume.Hostname).
		Str("humelevel", string(pkt.Hume.Level)).
		Str("task", pkt.Hume.Task).
		Str("timestamp", pkt.Hume.Timestamp).
		Strs("tags", pkt.Hume.Tags)
	if len(pkt.Hume.Extra) > 0 {
		ev = ev.Interface("extra", pkt.Hume.Extra)
	}
	if pkt.Process != nil {
		ev = ev.Interface("process", pkt.Process)
	}
	ev.Msg(pkt.Hume.Msg)

	conn, err := b.connect()
	if err != nil {
		return fmt.Errorf("backend logfwd: dial %s %s: %w", b.network, b.addr, err)
	}
	deadline := time.Now().Add(logfwdWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		b.reset()
		return fmt.Errorf("backend logfwd: write: %w", err)
	}
	return nil
}

func (b *logfwdBackend) connect() (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := net.DialTimeout(b.network, b.addr, logfwdWriteTimeout)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	return conn, nil
}

func (b *logfwdBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *logfwdBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
