package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/roach88/isoharness/internal/isolation"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

// DefaultTable is the counter table (or bucket) used when Config.Table is
// empty.
const DefaultTable = "inventories"

// Store is a single connection to a transactional backend holding counter
// records.
//
// A Store is used by one goroutine at a time. Workers each open their own.
type Store interface {
	// Provision creates the counter table and seeds key with 0 if either is
	// missing. Existing values are left untouched.
	Provision(ctx context.Context, key string) error

	// Reset sets the counter to value outside any transaction.
	Reset(ctx context.Context, key string, value int64) error

	// RunTransaction opens a transaction at level, runs body and commits
	// exactly once. Conflicts surface as *ConflictError, transport failures
	// as *ConnectionError. On any failure the transaction is rolled back.
	RunTransaction(ctx context.Context, level isolation.Level, body func(ctx context.Context, tx Tx) error) error

	// Read returns the counter value with a plain non-transactional read.
	Read(ctx context.Context, key string) (int64, error)

	// Close releases the connection.
	Close() error
}

// Tx is the statement surface available inside RunTransaction.
type Tx interface {
	// Increment adds delta to the counter server-side, without a client read.
	Increment(ctx context.Context, key string, delta int64) error

	// Get reads the counter as seen by the transaction.
	Get(ctx context.Context, key string) (int64, error)

	// Set overwrites the counter.
	Set(ctx context.Context, key string, value int64) error
}

// Config selects and addresses a backend.
type Config struct {
	// Backend is one of the Backend* names.
	Backend string `json:"backend" yaml:"backend"`

	// DSN is the backend-specific connection string: a file path for
	// sqlite and bolt, a directory for badger (empty for in-memory), a
	// go-sql-driver DSN for mysql, a URL for postgres and a database name
	// for memory.
	DSN string `json:"dsn" yaml:"dsn"`

	// Table is the SQL table, bolt bucket or badger key prefix.
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// withDefaults fills in Table and validates it.
func (c Config) withDefaults() (Config, error) {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !identifierPattern.MatchString(c.Table) {
		return c, fmt.Errorf("%w: %q", ErrInvalidTable, c.Table)
	}
	return c, nil
}

// opener creates one Store for a validated Config.
type opener func(ctx context.Context, cfg Config) (Store, error)

var openers = map[string]opener{
	BackendSQLite:   openSQLite,
	BackendMySQL:    openMySQL,
	BackendPostgres: openPostgres,
	BackendBadger:   openBadger,
	BackendBolt:     openBolt,
	BackendMemory:   openMemory,
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the backend named by cfg.Backend.
//
// SQL backends get a dedicated *sql.DB capped at one connection. Embedded
// backends (badger, bolt, memory) cannot be opened twice in one process, so
// every Open with the same DSN shares the underlying handle and Close drops
// a reference.
func Open(ctx context.Context, cfg Config) (Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	open, ok := openers[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("%w %q: must be one of %v", ErrUnknownBackend, cfg.Backend, Backends())
	}
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	return s, nil
}
