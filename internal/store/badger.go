package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/isoharness/internal/isolation"
)

// Badger runs optimistic serializable snapshot isolation for every
// transaction: reads are tracked and Commit fails with badger.ErrConflict
// when a key read by the transaction was committed by someone else.
// The requested level is therefore ignored.

var badgerDatabases = newHandleRegistry(
	func(dir string) (*badger.DB, error) {
		opts := badger.DefaultOptions(dir).WithInMemory(dir == "").WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
		}
		return db, nil
	},
	func(db *badger.DB) error { return db.Close() },
)

var badgerClassifier = classifier{
	backend: BackendBadger,
	conflict: func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	},
}

type badgerStore struct {
	db      *badger.DB
	table   string
	release func() error
}

func openBadger(_ context.Context, cfg Config) (Store, error) {
	db, release, err := badgerDatabases.acquire(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db, table: cfg.Table, release: release}, nil
}

func (s *badgerStore) rowKey(key string) []byte {
	return []byte(s.table + "/" + key)
}

func (s *badgerStore) Provision(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(s.rowKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(s.rowKey(key), encodeCounter(0))
		}
		return err
	})
	if err != nil {
		return badgerClassifier.wrap(fmt.Errorf("seed counter %q: %w", key, err))
	}
	return nil
}

func (s *badgerStore) Reset(_ context.Context, key string, value int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := badgerGet(txn, s.rowKey(key)); err != nil {
			return err
		}
		return txn.Set(s.rowKey(key), encodeCounter(value))
	})
	if err != nil {
		return badgerClassifier.wrap(fmt.Errorf("reset counter %q: %w", key, err))
	}
	return nil
}

func (s *badgerStore) Read(_ context.Context, key string) (int64, error) {
	var value int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = badgerGet(txn, s.rowKey(key))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", key, err)
	}
	return value, nil
}

func (s *badgerStore) RunTransaction(ctx context.Context, _ isolation.Level, body func(context.Context, Tx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := body(ctx, &badgerTx{txn: txn, store: s}); err != nil {
		return badgerClassifier.wrap(err)
	}
	if err := txn.Commit(); err != nil {
		return badgerClassifier.wrap(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *badgerStore) Close() error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	return release()
}

type badgerTx struct {
	txn   *badger.Txn
	store *badgerStore
}

// Increment reads and rewrites the key. The read is tracked, so a
// concurrent commit to the same key makes this transaction conflict.
func (t *badgerTx) Increment(_ context.Context, key string, delta int64) error {
	k := t.store.rowKey(key)
	current, err := badgerGet(t.txn, k)
	if err != nil {
		return err
	}
	return t.txn.Set(k, encodeCounter(current+delta))
}

func (t *badgerTx) Get(_ context.Context, key string) (int64, error) {
	return badgerGet(t.txn, t.store.rowKey(key))
}

func (t *badgerTx) Set(_ context.Context, key string, value int64) error {
	k := t.store.rowKey(key)
	if _, err := badgerGet(t.txn, k); err != nil {
		return err
	}
	return t.txn.Set(k, encodeCounter(value))
}

func badgerGet(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return decodeCounter(key, raw)
}

// encodeCounter stores counters as decimal text so they stay readable with
// generic KV tooling.
func encodeCounter(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func decodeCounter(key, raw []byte) (int64, error) {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not a valid integer: %w", key, err)
	}
	return v, nil
}
