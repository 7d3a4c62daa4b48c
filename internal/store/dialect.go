package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/isoharness/internal/isolation"
)

// MySQL server error numbers treated as conflicts.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213 // SQLSTATE 40001
	mysqlErrUnknown         = 1105 // Dolt reports optimistic lock failures with this
)

// PostgreSQL SQLSTATE codes treated as conflicts.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgConnectionClass      = "08"
)

// dialect captures everything that differs between SQL backends.
type dialect struct {
	name       string
	schemaFile string
	pragmas    []string

	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string

	// seed renders an insert that creates the counter row only if missing.
	seed func(table, p1 string) string

	// txOptions maps a level onto BeginTx options. nil means driver default.
	txOptions func(level isolation.Level) *sql.TxOptions

	classifier classifier
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func levelOptions(level isolation.Level) *sql.TxOptions {
	return &sql.TxOptions{Isolation: level.SQL()}
}

var sqliteDialect = dialect{
	name:       BackendSQLite,
	schemaFile: "schema/sqlite.sql",
	pragmas: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	},
	placeholder: questionMark,
	seed: func(table, p1 string) string {
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (sku, quantity) VALUES (%s, 0)", table, p1)
	},
	// SQLite transactions are always serializable.
	txOptions: func(isolation.Level) *sql.TxOptions { return nil },
	classifier: classifier{
		backend:  BackendSQLite,
		conflict: isSQLiteConflict,
	},
}

var mysqlDialect = dialect{
	name:        BackendMySQL,
	schemaFile:  "schema/mysql.sql",
	placeholder: questionMark,
	seed: func(table, p1 string) string {
		return fmt.Sprintf("INSERT IGNORE INTO %s (sku, quantity) VALUES (%s, 0)", table, p1)
	},
	txOptions: levelOptions,
	classifier: classifier{
		backend:    BackendMySQL,
		conflict:   isMySQLConflict,
		connection: isMySQLConnection,
	},
}

var postgresDialect = dialect{
	name:        BackendPostgres,
	schemaFile:  "schema/postgres.sql",
	placeholder: dollar,
	seed: func(table, p1 string) string {
		return fmt.Sprintf("INSERT INTO %s (sku, quantity) VALUES (%s, 0) ON CONFLICT (sku) DO NOTHING", table, p1)
	},
	txOptions: levelOptions,
	classifier: classifier{
		backend:    BackendPostgres,
		conflict:   isPostgresConflict,
		connection: isPostgresConnection,
	},
}

func isSQLiteConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isMySQLConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return true
	case mysqlErrUnknown:
		return strings.Contains(strings.ToLower(myErr.Message), "optimistic lock")
	}
	return false
}

func isMySQLConnection(err error) bool {
	return errors.Is(err, mysql.ErrInvalidConn)
}

func isPostgresConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func isPostgresConnection(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgConnectionClass)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
