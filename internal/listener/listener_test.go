package listener

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"humed/internal/hume"
	"humed/internal/storage"
	"humed/pkg/logx"
)

type observation struct {
	hostname string
	task     string
	level    hume.Level
	epoch    int64
}

type testRig struct {
	store storage.Store
	lst   *Listener
	wakes atomic.Int64

	mu       sync.Mutex
	observed []observation
}

func (r *testRig) observations() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.observed...)
}

func startListener(t *testing.T, authToken string) *testRig {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "q.sqlite3"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rig := &testRig{store: st}
	rig.lst = New(Params{
		Addr:      "127.0.0.1:0",
		AuthToken: authToken,
		Store:     st,
		Observe: func(hostname, task string, level hume.Level, epoch int64) {
			rig.mu.Lock()
			rig.observed = append(rig.observed, observation{hostname, task, level, epoch})
			rig.mu.Unlock()
		},
		Wake: func() { rig.wakes.Add(1) },
		Log:  logx.Nop(),
	})
	if err := rig.lst.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rig.lst.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return rig
}

func exchange(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := fmt.Fprintf(conn, "%s\n", request); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply[:len(reply)-1]
}

func validRequest(token string) string {
	ts := hume.Timestamp(time.Now())
	body := fmt.Sprintf(`{"hume": {"timestamp": %q, "version": 1, "hostname": "web01.example.com", "level": "ok", "tags": ["cron"], "task": "backup", "msg": "done", "extra": {}}}`, ts)
	if token == "" {
		return body
	}
	return fmt.Sprintf(`{"token": %q, %s`, token, body[1:])
}

func pendingCount(t *testing.T, st storage.Store) int {
	t.Helper()
	ids, err := st.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return len(ids)
}

func TestAcceptAndPersist(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	if got := exchange(t, rig.lst.Addr(), validRequest("")); got != "OK" {
		t.Fatalf("reply = %q, want OK", got)
	}

	// Persistence happens after the ack; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for pendingCount(t, rig.store) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := pendingCount(t, rig.store); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if rig.wakes.Load() == 0 {
		t.Fatal("worker was not signaled")
	}
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	if got := exchange(t, rig.lst.Addr(), "{not json"); got != "Invalid JSON message" {
		t.Fatalf("reply = %q", got)
	}
	if n := pendingCount(t, rig.store); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestAuthFail(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "sekrit")

	tests := []struct {
		name  string
		token string
	}{
		{"wrong token", "nope"},
		{"missing token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exchange(t, rig.lst.Addr(), validRequest(tt.token)); got != "AUTHFAIL" {
				t.Fatalf("reply = %q, want AUTHFAIL", got)
			}
		})
	}
	if n := pendingCount(t, rig.store); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestAuthSuccessStripsToken(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "sekrit")

	if got := exchange(t, rig.lst.Addr(), validRequest("sekrit")); got != "OK" {
		t.Fatalf("reply = %q, want OK", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for pendingCount(t, rig.store) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ids, err := rig.store.ListPending(context.Background())
	if err != nil || len(ids) != 1 {
		t.Fatalf("pending = %v, err = %v", ids, err)
	}
	rec, err := rig.store.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Packet.Token != "" {
		t.Fatalf("token persisted: %q", rec.Packet.Token)
	}
}

func TestInvalidPacketAckedButDropped(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	// Underscores make the hostname invalid; the sender still gets OK.
	req := `{"hume": {"timestamp": "2026-08-28T10:00:00.000000", "version": 1, "hostname": "bad_host", "level": "ok", "tags": [], "task": "backup", "msg": "done", "extra": {}}}`
	if got := exchange(t, rig.lst.Addr(), req); got != "OK" {
		t.Fatalf("reply = %q, want OK", got)
	}
	time.Sleep(100 * time.Millisecond)
	if n := pendingCount(t, rig.store); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestStatusObservedOnPersist(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	if got := exchange(t, rig.lst.Addr(), validRequest("")); got != "OK" {
		t.Fatalf("reply = %q, want OK", got)
	}

	// The status update is synchronous with persistence, not a bus
	// delivery that can be shed under load.
	deadline := time.Now().Add(2 * time.Second)
	for len(rig.observations()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	obs := rig.observations()
	if len(obs) != 1 {
		t.Fatalf("observations = %d, want 1", len(obs))
	}
	if obs[0].hostname != "web01.example.com" || obs[0].task != "backup" || obs[0].level != hume.LevelOK {
		t.Fatalf("observation = %+v", obs[0])
	}
	if obs[0].epoch <= 0 {
		t.Fatalf("epoch = %d", obs[0].epoch)
	}
}

func TestOversizedRequestRejected(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	conn, err := net.DialTimeout("tcp", rig.lst.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// No terminator; the rejection must come from the read cap, not from
	// ever seeing a complete line.
	if _, err := conn.Write(bytes.Repeat([]byte{'a'}, maxLineBytes+16)); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply != "Invalid JSON message\n" {
		t.Fatalf("reply = %q", reply)
	}
	if n := pendingCount(t, rig.store); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestMultipleRequestsPerConnection(t *testing.T) {
	t.Parallel()
	rig := startListener(t, "")

	conn, err := net.DialTimeout("tcp", rig.lst.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		if _, err := fmt.Fprintf(conn, "%s\n", validRequest("")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		reply, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if reply != "OK\n" {
			t.Fatalf("reply %d = %q", i, reply)
		}
	}
}
