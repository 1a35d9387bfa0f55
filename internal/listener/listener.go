// Package listener implements the ingestion side of the relay: a TCP
// request/reply endpoint speaking newline-delimited JSON.
//
// The reply contract is deliberately small. "Invalid JSON message" for
// unparseable input, "AUTHFAIL" for a token mismatch, and "OK" for
// everything else. OK acknowledges receipt, not delivery: it is sent before
// validation and persistence so a sender's wait never depends on storage
// latency. A packet that later fails validation is dropped silently.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"humed/internal/eventbus"
	"humed/internal/hume"
	"humed/internal/storage"
	"humed/pkg/logx"
)

const (
	replyOK          = "OK"
	replyAuthFail    = "AUTHFAIL"
	replyInvalidJSON = "Invalid JSON message"

	// requestTimeout bounds a single read-request/write-reply exchange.
	requestTimeout = 30 * time.Second
	maxLineBytes   = 1 << 20
)

// Listener accepts hume packets and hands them to the queue.
type Listener struct {
	addr      string
	authToken string

	store   storage.Store
	bus     *eventbus.Bus
	observe func(hostname, task string, level hume.Level, epoch int64)
	wake    func()
	log     logx.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}

	parsers fastjson.ParserPool
}

type Params struct {
	Addr      string
	AuthToken string
	Store     storage.Store
	Bus       *eventbus.Bus
	// Observe records every persisted packet in the status table. Called
	// inline so the last-seen entry survives event-bus overflow.
	Observe func(hostname, task string, level hume.Level, epoch int64)
	// Wake pokes the dispatch worker after a successful enqueue.
	Wake func()
	Log  logx.Logger
}

func New(p Params) *Listener {
	return &Listener{
		addr:      p.Addr,
		authToken: p.AuthToken,
		store:     p.Store,
		bus:       p.Bus,
		observe:   p.Observe,
		wake:      p.Wake,
		log:       p.Log.With(logx.String("component", "listener")),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen binds the ingestion socket. A bind failure is fatal to startup and
// is surfaced separately from serve-time errors.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listener: bind %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.log.Info("listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

// Run serves connections until ctx is canceled, then closes the socket and
// every open connection so in-flight reads unblock promptly.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener: Run before Listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		l.mu.Lock()
		for c := range l.conns {
			c.Close()
		}
		l.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("listener: accept: %w", err)
		}
		l.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serve(ctx, conn)
		}()
	}
}

func (l *Listener) track(c net.Conn) {
	l.mu.Lock()
	l.conns[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer l.untrack(conn)

	// The reader is capped per request so a line with no terminator cannot
	// buffer more than one oversized payload before being rejected.
	lim := &io.LimitedReader{R: conn}
	r := bufio.NewReaderSize(lim, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetDeadline(time.Now().Add(requestTimeout))
		lim.N = maxLineBytes + 1

		line, err := r.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			return
		}
		if len(line) > maxLineBytes {
			l.reply(conn, replyInvalidJSON)
			return
		}

		// The reply goes out before any storage work so the sender's
		// wait never depends on persistence latency.
		msg, accepted := l.classify(line)
		if !l.reply(conn, msg) {
			return
		}
		if accepted != nil {
			l.ingest(ctx, accepted)
		}
		if err != nil {
			// Torn request without terminator was answered; drop the conn.
			return
		}
	}
}

func (l *Listener) reply(conn net.Conn, msg string) bool {
	_, err := conn.Write(append([]byte(msg), '\n'))
	return err == nil
}

// classify decides the reply for one request line. A non-nil second return
// is the raw payload to ingest after the ack has been written.
func (l *Listener) classify(raw []byte) (string, []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return replyInvalidJSON, nil
	}

	// Cheap well-formedness check plus token extraction before the full
	// decode; auth rejections never pay for struct unmarshaling.
	p := l.parsers.Get()
	v, err := p.ParseBytes(raw)
	if err != nil {
		l.parsers.Put(p)
		l.log.Debug("unparseable request", logx.Err(err))
		return replyInvalidJSON, nil
	}
	token := string(v.GetStringBytes("token"))
	l.parsers.Put(p)

	if !l.authorized(token) {
		l.log.Warn("auth token mismatch")
		return replyAuthFail, nil
	}
	return replyOK, raw
}

func (l *Listener) authorized(token string) bool {
	if l.authToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(l.authToken)) == 1
}

func (l *Listener) ingest(ctx context.Context, raw []byte) {
	var pkt hume.Packet
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&pkt); err != nil {
		l.log.Debug("dropping malformed packet", logx.Err(err))
		return
	}
	pkt.Token = ""
	pkt.Normalize()

	if err := pkt.Validate(); err != nil {
		l.log.Debug("dropping invalid packet",
			logx.String("hostname", pkt.Hume.Hostname),
			logx.String("task", pkt.Hume.Task),
			logx.Err(err))
		return
	}

	id, err := l.store.Add(ctx, &pkt)
	if err != nil {
		l.log.Error("enqueue failed",
			logx.String("task", pkt.Hume.Task),
			logx.Err(err))
		return
	}
	l.log.Debug("packet queued",
		logx.Int64("id", id),
		logx.String("hostname", pkt.Hume.Hostname),
		logx.String("task", pkt.Hume.Task),
		logx.String("level", string(pkt.Hume.Level)))

	if l.observe != nil {
		l.observe(pkt.Hume.Hostname, pkt.Hume.Task, pkt.Hume.Level, pkt.Hume.EpochSeconds(time.Now()))
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Kind:     eventbus.KindQueued,
			ID:       id,
			Hostname: pkt.Hume.Hostname,
			Task:     pkt.Hume.Task,
			Level:    pkt.Hume.Level,
			At:       time.Unix(pkt.Hume.EpochSeconds(time.Now()), 0),
		})
	}
	if l.wake != nil {
		l.wake()
	}
}
