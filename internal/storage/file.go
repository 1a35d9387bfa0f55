package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"humed/internal/hume"
)

// fileStore keeps the queue in two append-only JSONL journals: transfers.jsonl
// holds one record per line, sent.jsonl holds the ids that were delivered.
// State is replayed into memory on open. It trades sqlite's robustness for
// zero native baggage and exists mainly for constrained hosts and tests.
type fileStore struct {
	mu      sync.Mutex
	dir     string
	journal *os.File
	sentLog *os.File
	nextID  int64
	records map[int64]fileRecord
	enc     *json.Encoder
	sentEnc *json.Encoder
}

type fileRecord struct {
	ID   int64           `json:"id"`
	TS   time.Time       `json:"ts"`
	Hume json.RawMessage `json:"hume"`

	sent bool
}

type sentEntry struct {
	ID int64 `json:"id"`
}

func openFile(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("storage: file dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	s := &fileStore{
		dir:     dir,
		nextID:  1,
		records: make(map[int64]fileRecord),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}

	var err error
	s.journal, err = os.OpenFile(filepath.Join(dir, "transfers.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open journal: %w", err)
	}
	s.sentLog, err = os.OpenFile(filepath.Join(dir, "sent.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.journal.Close()
		return nil, fmt.Errorf("storage: open sent journal: %w", err)
	}
	s.enc = json.NewEncoder(s.journal)
	s.sentEnc = json.NewEncoder(s.sentLog)
	return s, nil
}

func (s *fileStore) replay() error {
	if err := s.replayJournal(); err != nil {
		return err
	}
	return s.replaySent()
}

func (s *fileStore) replayJournal() error {
	f, err := os.Open(filepath.Join(s.dir, "transfers.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: replay journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line after a crash is expected; keep going.
			continue
		}
		s.records[rec.ID] = rec
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	return sc.Err()
}

func (s *fileStore) replaySent() error {
	f, err := os.Open(filepath.Join(s.dir, "sent.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: replay sent journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e sentEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if rec, ok := s.records[e.ID]; ok {
			rec.sent = true
			s.records[e.ID] = rec
		}
	}
	return sc.Err()
}

func (s *fileStore) Add(_ context.Context, pkt *hume.Packet) (int64, error) {
	raw, err := marshalPacket(pkt)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := fileRecord{ID: s.nextID, TS: time.Now().UTC(), Hume: raw}
	if err := s.enc.Encode(rec); err != nil {
		return 0, fmt.Errorf("storage: append transfer: %w", err)
	}
	s.nextID++
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *fileStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.sent {
		return nil
	}
	if err := s.sentEnc.Encode(sentEntry{ID: id}); err != nil {
		return fmt.Errorf("storage: append sent: %w", err)
	}
	rec.sent = true
	s.records[id] = rec
	return nil
}

func (s *fileStore) ListPending(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, rec := range s.records {
		if !rec.sent {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fileStore) Get(_ context.Context, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec := Record{
		ID:         frec.ID,
		ReceivedAt: frec.TS,
		Sent:       frec.sent,
		Raw:        []byte(frec.Hume),
	}
	var pkt hume.Packet
	if err := json.Unmarshal(frec.Hume, &pkt); err != nil {
		return rec, fmt.Errorf("%w: id %d: %v", ErrCorrupt, id, err)
	}
	rec.Packet = &pkt
	return rec, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jerr := s.journal.Close()
	serr := s.sentLog.Close()
	if jerr != nil {
		return jerr
	}
	return serr
}
