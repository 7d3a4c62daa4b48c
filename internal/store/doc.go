// Package store adapts transactional backends to the minimal surface the
// isolation harness needs: reset a counter, run one transaction at a chosen
// isolation level, and read the counter back.
//
// # Backends
//
//   - sqlite: mattn/go-sqlite3, WAL mode with a busy timeout. SQLite always
//     runs serializable; the requested level is ignored.
//   - mysql: go-sql-driver/mysql. Levels map to SET TRANSACTION ISOLATION LEVEL.
//   - postgres: jackc/pgx/v5 through database/sql. Postgres runs read
//     uncommitted as read committed.
//   - badger: dgraph-io/badger/v4 optimistic transactions (SSI at every level).
//   - bolt: go.etcd.io/bbolt, a single serialized writer that never conflicts.
//   - memory: an in-process MVCC model. Weak levels apply increments to the
//     latest committed value (read uncommitted behaves as read committed);
//     snapshot levels abort on concurrent commits.
//
// # Error taxonomy
//
// Driver errors are classified once, at the adapter boundary:
//
//   - *ConflictError (errors.Is ErrConflict): serialization failures,
//     deadlocks, write conflicts. Retryable.
//   - *ConnectionError (errors.Is ErrConnection): dropped or broken
//     connections. Never retried under the strict policy.
//   - anything else is returned as-is and treated as fatal.
//
// # Schema
//
// SQL backends embed one schema file per dialect under schema/. Provision
// applies it and seeds the counter row when the table is not managed
// externally.
package store
