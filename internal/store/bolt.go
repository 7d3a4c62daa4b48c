package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/isoharness/internal/isolation"
)

// Bolt allows one read-write transaction at a time, so every transaction is
// trivially serializable and never conflicts. The requested level is ignored.

var boltDatabases = newHandleRegistry(
	func(path string) (*bolt.DB, error) {
		if path == "" {
			return nil, errors.New("bolt backend requires a database path")
		}
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt at %q: %w", path, err)
		}
		return db, nil
	},
	func(db *bolt.DB) error { return db.Close() },
)

var boltClassifier = classifier{backend: BackendBolt}

type boltStore struct {
	db      *bolt.DB
	bucket  []byte
	release func() error
}

func openBolt(_ context.Context, cfg Config) (Store, error) {
	db, release, err := boltDatabases.acquire(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &boltStore{db: db, bucket: []byte(cfg.Table), release: release}, nil
}

func (s *boltStore) Provision(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(key)) == nil {
			return bucket.Put([]byte(key), encodeCounter(0))
		}
		return nil
	})
	if err != nil {
		return boltClassifier.wrap(fmt.Errorf("seed counter %q: %w", key, err))
	}
	return nil
}

func (s *boltStore) Reset(_ context.Context, key string, value int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		t := &boltTx{tx: tx, bucket: s.bucket}
		return t.Set(context.Background(), key, value)
	})
	if err != nil {
		return boltClassifier.wrap(fmt.Errorf("reset counter %q: %w", key, err))
	}
	return nil
}

func (s *boltStore) Read(_ context.Context, key string) (int64, error) {
	var value int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		value, err = (&boltTx{tx: tx, bucket: s.bucket}).Get(context.Background(), key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", key, err)
	}
	return value, nil
}

func (s *boltStore) RunTransaction(ctx context.Context, _ isolation.Level, body func(context.Context, Tx) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return body(ctx, &boltTx{tx: tx, bucket: s.bucket})
	})
	return boltClassifier.wrap(err)
}

func (s *boltStore) Close() error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	return release()
}

type boltTx struct {
	tx     *bolt.Tx
	bucket []byte
}

func (t *boltTx) Increment(ctx context.Context, key string, delta int64) error {
	current, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	return t.tx.Bucket(t.bucket).Put([]byte(key), encodeCounter(current+delta))
}

func (t *boltTx) Get(_ context.Context, key string) (int64, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return 0, fmt.Errorf("%w: bucket %q not found", ErrCounterNotFound, t.bucket)
	}
	raw := bucket.Get([]byte(key))
	if raw == nil {
		return 0, fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	return decodeCounter([]byte(key), raw)
}

func (t *boltTx) Set(ctx context.Context, key string, value int64) error {
	if _, err := t.Get(ctx, key); err != nil {
		return err
	}
	return t.tx.Bucket(t.bucket).Put([]byte(key), encodeCounter(value))
}
