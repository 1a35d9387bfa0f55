package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"humed/internal/hume"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("storage: sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// A single writer keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply migrations: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Add(ctx context.Context, pkt *hume.Packet) (int64, error) {
	raw, err := marshalPacket(pkt)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (ts, sent, hume) VALUES (?, 0, ?)`,
		time.Now().UTC(), string(raw))
	if err != nil {
		return 0, fmt.Errorf("storage: insert transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: transfer id: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET sent = 1 WHERE rowid = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark sent: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid FROM transfers WHERE sent = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan pending: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list pending: %w", err)
	}
	return ids, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Record, error) {
	var (
		rec Record
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT rowid, ts, sent, hume FROM transfers WHERE rowid = ?`, id).
		Scan(&rec.ID, &rec.ReceivedAt, &rec.Sent, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("storage: get transfer: %w", err)
	}
	rec.Raw = []byte(raw)

	var pkt hume.Packet
	if err := json.Unmarshal(rec.Raw, &pkt); err != nil {
		return rec, fmt.Errorf("%w: id %d: %v", ErrCorrupt, id, err)
	}
	rec.Packet = &pkt
	return rec, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// marshalPacket serializes a packet for persistence with the auth token
// stripped. The caller's packet is left untouched.
func marshalPacket(pkt *hume.Packet) ([]byte, error) {
	clean := *pkt
	clean.Token = ""
	raw, err := json.Marshal(&clean)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal transfer: %w", err)
	}
	return raw, nil
}
