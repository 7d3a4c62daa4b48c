package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

const testKey = "ABC"

// localBackends are the backends that run without an external server.
var localBackends = []string{BackendSQLite, BackendBadger, BackendBolt, BackendMemory}

// testConfig returns a Config for backend pointing at a fresh location
// owned by t.
func testConfig(t *testing.T, backend string) Config {
	t.Helper()
	dir := t.TempDir()
	switch backend {
	case BackendSQLite:
		return Config{Backend: backend, DSN: filepath.Join(dir, "test.db")}
	case BackendBolt:
		return Config{Backend: backend, DSN: filepath.Join(dir, "test.bolt")}
	case BackendBadger:
		return Config{Backend: backend, DSN: filepath.Join(dir, "badger")}
	case BackendMemory:
		return Config{Backend: backend, DSN: strings.ReplaceAll(t.Name(), "/", "_")}
	default:
		t.Fatalf("no local test config for backend %q", backend)
		return Config{}
	}
}

// openTestStore opens and provisions a store. The store is closed when the
// test ends.
func openTestStore(t *testing.T, cfg Config) Store {
	t.Helper()
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Provision(context.Background(), testKey); err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	return s
}

// eachLocalBackend runs f in a subtest per local backend.
func eachLocalBackend(t *testing.T, f func(t *testing.T, cfg Config)) {
	for _, backend := range localBackends {
		t.Run(backend, func(t *testing.T) {
			f(t, testConfig(t, backend))
		})
	}
}

// retryOnConflict reruns run until it returns nil or a non-conflict error.
func retryOnConflict(run func() error) error {
	for {
		err := run()
		if err == nil || !IsConflict(err) {
			return err
		}
	}
}
