package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"humed/internal/hume"
)

func testPacket(task, msg string) *hume.Packet {
	return &hume.Packet{
		Token: "sekrit",
		Hume: hume.Body{
			Timestamp: hume.Timestamp(time.Now()),
			Version:   hume.MessageVersion,
			Hostname:  "web01.example.com",
			Level:     hume.LevelOK,
			Tags:      []string{"cron"},
			Task:      task,
			Msg:       msg,
			Extra:     map[string]string{},
		},
	}
}

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "humed.sqlite3")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	fl, err := Open(Config{Driver: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	t.Cleanup(func() { sq.Close(); fl.Close() })
	return map[string]Store{"sqlite": sq, "file": fl}
}

func TestQueueLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := st.Add(ctx, testPacket("backup", "backup done"))
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			id2, err := st.Add(ctx, testPacket("sync", "sync failed"))
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if id1 == id2 {
				t.Fatalf("ids must be distinct, both %d", id1)
			}

			pending, err := st.ListPending(ctx)
			if err != nil {
				t.Fatalf("list pending: %v", err)
			}
			if len(pending) != 2 || pending[0] != id1 || pending[1] != id2 {
				t.Fatalf("pending = %v, want [%d %d]", pending, id1, id2)
			}

			if err := st.MarkSent(ctx, id1); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
			// Marking twice must stay a no-op.
			if err := st.MarkSent(ctx, id1); err != nil {
				t.Fatalf("mark sent again: %v", err)
			}

			pending, err = st.ListPending(ctx)
			if err != nil {
				t.Fatalf("list pending: %v", err)
			}
			if len(pending) != 1 || pending[0] != id2 {
				t.Fatalf("pending = %v, want [%d]", pending, id2)
			}

			rec, err := st.Get(ctx, id1)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !rec.Sent {
				t.Fatal("record must be sent")
			}
			if rec.Packet.Hume.Task != "backup" {
				t.Fatalf("task = %q", rec.Packet.Hume.Task)
			}
		})
	}
}

func TestTokenNeverPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			pkt := testPacket("backup", "done")
			id, err := st.Add(ctx, pkt)
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if pkt.Token != "sekrit" {
				t.Fatal("caller packet must not be mutated")
			}
			rec, err := st.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if strings.Contains(string(rec.Raw), "sekrit") {
				t.Fatalf("token leaked to disk: %s", rec.Raw)
			}
			if rec.Packet.Token != "" {
				t.Fatalf("token = %q, want empty", rec.Packet.Token)
			}
		})
	}
}

func TestGetUnknownID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get: err = %v, want ErrNotFound", err)
			}
			if err := st.MarkSent(ctx, 9999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("mark sent: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSQLiteCorruptPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "humed.sqlite3")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	sq := st.(*sqliteStore)
	res, err := sq.db.ExecContext(ctx,
		`INSERT INTO transfers (ts, sent, hume) VALUES (?, 0, ?)`,
		time.Now().UTC(), `{"hume": not json`)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	id, _ := res.LastInsertId()

	rec, err := st.Get(ctx, id)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if rec.Packet != nil {
		t.Fatal("corrupt record must not carry a packet")
	}
	if len(rec.Raw) == 0 {
		t.Fatal("raw payload must be preserved for inspection")
	}

	// Corrupt records stay pending; the worker skips them.
	pending, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != id {
		t.Fatalf("pending = %v, want [%d]", pending, id)
	}
}

func TestFileStoreReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id1, err := st.Add(ctx, testPacket("backup", "one"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id2, err := st.Add(ctx, testPacket("sync", "two"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.MarkSent(ctx, id1); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	pending, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != id2 {
		t.Fatalf("pending after replay = %v, want [%d]", pending, id2)
	}

	id3, err := st.Add(ctx, testPacket("report", "three"))
	if err != nil {
		t.Fatalf("add after replay: %v", err)
	}
	if id3 <= id2 {
		t.Fatalf("id after replay = %d, want > %d", id3, id2)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd", Path: "x"}); err == nil {
		t.Fatal("want error for unknown driver")
	}
}
