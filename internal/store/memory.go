package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/roach88/isoharness/internal/isolation"
)

// memoryDB is an in-process multi-version counter table.
//
// Weak levels (read uncommitted, read committed) read the latest committed
// row and apply increments to whatever value is current at commit, the way
// a row-locking UPDATE behaves. Read uncommitted never exposes dirty data;
// like PostgreSQL it is treated as read committed. Snapshot levels read a
// copy taken at begin and abort at commit when any touched row has a newer
// version (first committer wins).
type memoryDB struct {
	mu    sync.Mutex
	rows  map[string]memoryRow
	clock *Clock
}

type memoryRow struct {
	value   int64
	version int64
}

var memoryDatabases = newHandleRegistry(
	func(string) (*memoryDB, error) {
		return &memoryDB{rows: make(map[string]memoryRow), clock: NewClock()}, nil
	},
	nil,
)

// memoryStore is one session on a shared memoryDB.
type memoryStore struct {
	db      *memoryDB
	table   string
	latency time.Duration
	release func() error
}

// parseMemoryDSN splits "name?latency=1ms" into the database name and the
// per-statement latency. Latency widens the window in which transactions
// overlap.
func parseMemoryDSN(dsn string) (string, time.Duration, error) {
	name, rawQuery, _ := strings.Cut(dsn, "?")
	if name == "" {
		name = "default"
	}
	if rawQuery == "" {
		return name, 0, nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", 0, fmt.Errorf("parse memory dsn %q: %w", dsn, err)
	}
	var latency time.Duration
	if raw := values.Get("latency"); raw != "" {
		latency, err = time.ParseDuration(raw)
		if err != nil {
			return "", 0, fmt.Errorf("parse memory latency %q: %w", raw, err)
		}
	}
	return name, latency, nil
}

func openMemory(_ context.Context, cfg Config) (Store, error) {
	name, latency, err := parseMemoryDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, release, err := memoryDatabases.acquire(name)
	if err != nil {
		return nil, err
	}
	return &memoryStore{db: db, table: cfg.Table, latency: latency, release: release}, nil
}

func (s *memoryStore) rowKey(key string) string {
	return s.table + "/" + key
}

func (s *memoryStore) pause() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

func (s *memoryStore) Provision(_ context.Context, key string) error {
	if s.db == nil {
		return ErrClosed
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := s.rowKey(key)
	if _, ok := s.db.rows[k]; !ok {
		s.db.rows[k] = memoryRow{value: 0, version: s.db.clock.Next()}
	}
	return nil
}

func (s *memoryStore) Reset(_ context.Context, key string, value int64) error {
	if s.db == nil {
		return ErrClosed
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := s.rowKey(key)
	if _, ok := s.db.rows[k]; !ok {
		return fmt.Errorf("%w: %q in %s", ErrCounterNotFound, key, s.table)
	}
	s.db.rows[k] = memoryRow{value: value, version: s.db.clock.Next()}
	return nil
}

func (s *memoryStore) Read(_ context.Context, key string) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	row, ok := s.db.rows[s.rowKey(key)]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", ErrCounterNotFound, key, s.table)
	}
	return row.value, nil
}

func (s *memoryStore) RunTransaction(ctx context.Context, level isolation.Level, body func(context.Context, Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx := &memoryTx{store: s, level: level, seen: make(map[string]int64)}
	if level.UsesSnapshot() {
		s.db.mu.Lock()
		tx.snapshot = make(map[string]memoryRow, len(s.db.rows))
		for k, row := range s.db.rows {
			tx.snapshot[k] = row
		}
		s.db.mu.Unlock()
	}

	if err := body(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *memoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.db = nil
	return s.release()
}

// memoryTx buffers writes until commit.
type memoryTx struct {
	store    *memoryStore
	level    isolation.Level
	snapshot map[string]memoryRow // nil below repeatable read
	seen     map[string]int64     // row key -> version observed
	writes   []memoryWrite
}

type memoryWrite struct {
	key   string
	set   bool
	value int64 // new value when set, delta otherwise
}

// visible returns the row as this transaction sees it, before its own writes.
func (t *memoryTx) visible(k string) (memoryRow, bool) {
	if t.snapshot != nil {
		row, ok := t.snapshot[k]
		if ok {
			if _, tracked := t.seen[k]; !tracked {
				t.seen[k] = row.version
			}
		}
		return row, ok
	}
	db := t.store.db
	db.mu.Lock()
	defer db.mu.Unlock()
	row, ok := db.rows[k]
	return row, ok
}

func (t *memoryTx) Increment(_ context.Context, key string, delta int64) error {
	t.store.pause()
	k := t.store.rowKey(key)
	if _, ok := t.visible(k); !ok {
		return fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	t.writes = append(t.writes, memoryWrite{key: k, value: delta})
	return nil
}

func (t *memoryTx) Get(_ context.Context, key string) (int64, error) {
	t.store.pause()
	k := t.store.rowKey(key)
	row, ok := t.visible(k)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	value := row.value
	for _, w := range t.writes {
		if w.key != k {
			continue
		}
		if w.set {
			value = w.value
		} else {
			value += w.value
		}
	}
	return value, nil
}

func (t *memoryTx) Set(_ context.Context, key string, value int64) error {
	t.store.pause()
	k := t.store.rowKey(key)
	if _, ok := t.visible(k); !ok {
		return fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	t.writes = append(t.writes, memoryWrite{key: k, set: true, value: value})
	return nil
}

func (t *memoryTx) commit() error {
	db := t.store.db
	db.mu.Lock()
	defer db.mu.Unlock()

	for k, version := range t.seen {
		if current := db.rows[k].version; current != version {
			return &ConflictError{
				Backend: BackendMemory,
				Err: fmt.Errorf("row %q committed at version %d after snapshot version %d (%s)",
					k, current, version, t.level),
			}
		}
	}

	for _, w := range t.writes {
		row := db.rows[w.key]
		if w.set {
			row.value = w.value
		} else {
			row.value += w.value
		}
		row.version = db.clock.Next()
		db.rows[w.key] = row
	}
	return nil
}
