package store

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/isoharness/internal/isolation"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// sqlStore is a Store over a single database/sql connection.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	table   string
	queries queries
}

// queries are rendered once per store since the table name is fixed.
type queries struct {
	set       string
	increment string
	get       string
	seed      string
}

func newQueries(d dialect, table string) queries {
	p := d.placeholder
	return queries{
		set:       fmt.Sprintf("UPDATE %s SET quantity = %s WHERE sku = %s", table, p(1), p(2)),
		increment: fmt.Sprintf("UPDATE %s SET quantity = quantity + %s WHERE sku = %s", table, p(1), p(2)),
		get:       fmt.Sprintf("SELECT quantity FROM %s WHERE sku = %s", table, p(1)),
		seed:      d.seed(table, p(1)),
	}
}

func openSQLite(ctx context.Context, cfg Config) (Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite backend requires a database path")
	}
	// Every worker opens its own connection, so an in-memory database
	// would give each of them a private counter.
	if cfg.DSN == ":memory:" || strings.Contains(cfg.DSN, "mode=memory") {
		return nil, errors.New("sqlite backend requires a file database shared by all workers")
	}
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLStore(ctx, db, sqliteDialect, cfg.Table)
}

func openMySQL(ctx context.Context, cfg Config) (Store, error) {
	mcfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Report matched rows rather than changed rows so that resetting an
	// already-zero counter is not mistaken for a missing row.
	mcfg.ClientFoundRows = true
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return newSQLStore(ctx, sql.OpenDB(connector), mysqlDialect, cfg.Table)
}

func openPostgres(ctx context.Context, cfg Config) (Store, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	return newSQLStore(ctx, stdlib.OpenDB(*connConfig), postgresDialect, cfg.Table)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, table string) (*sqlStore, error) {
	// One connection per store: workers must not share sessions, and a
	// pooled second connection would hide transport failures.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, d.classifier.wrap(fmt.Errorf("failed to connect to database: %w", err))
	}

	if err := applyPragmas(ctx, db, d.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &sqlStore{
		db:      db,
		dialect: d,
		table:   table,
		queries: newQueries(d, table),
	}, nil
}

// applyPragmas sets per-connection configuration.
func applyPragmas(ctx context.Context, db *sql.DB, pragmas []string) error {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// renderSchema fills the dialect's schema template with the table name.
func renderSchema(d dialect, table string) ([]string, error) {
	raw, err := schemaFS.ReadFile(d.schemaFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.schemaFile, err)
	}
	tmpl, err := template.New(d.schemaFile).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.schemaFile, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Table string }{table}); err != nil {
		return nil, fmt.Errorf("render %s: %w", d.schemaFile, err)
	}

	var stmts []string
	for _, stmt := range strings.Split(buf.String(), ";") {
		if strings.TrimSpace(stmt) != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

// Provision creates the table if needed and seeds key. Idempotent.
func (s *sqlStore) Provision(ctx context.Context, key string) error {
	stmts, err := renderSchema(s.dialect, s.table)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.dialect.classifier.wrap(fmt.Errorf("failed to execute schema: %w", err))
		}
	}
	if _, err := s.db.ExecContext(ctx, s.queries.seed, key); err != nil {
		return s.dialect.classifier.wrap(fmt.Errorf("seed counter %q: %w", key, err))
	}
	return nil
}

func (s *sqlStore) Reset(ctx context.Context, key string, value int64) error {
	res, err := s.db.ExecContext(ctx, s.queries.set, value, key)
	if err != nil {
		return s.dialect.classifier.wrap(fmt.Errorf("reset counter %q: %w", key, err))
	}
	return requireRow(res, key)
}

func (s *sqlStore) RunTransaction(ctx context.Context, level isolation.Level, body func(context.Context, Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions(level))
	if err != nil {
		return s.dialect.classifier.wrap(fmt.Errorf("begin %s transaction: %w", level, err))
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := body(ctx, &sqlTx{tx: tx, queries: s.queries}); err != nil {
		_ = tx.Rollback()
		return s.dialect.classifier.wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return s.dialect.classifier.wrap(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *sqlStore) Read(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, s.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q in %s", ErrCounterNotFound, key, s.table)
	}
	if err != nil {
		return 0, s.dialect.classifier.wrap(fmt.Errorf("read counter %q: %w", key, err))
	}
	return value, nil
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sqlTx issues statements inside one database/sql transaction.
type sqlTx struct {
	tx      *sql.Tx
	queries queries
}

func (t *sqlTx) Increment(ctx context.Context, key string, delta int64) error {
	res, err := t.tx.ExecContext(ctx, t.queries.increment, delta, key)
	if err != nil {
		return fmt.Errorf("increment %q: %w", key, err)
	}
	return requireRow(res, key)
}

func (t *sqlTx) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := t.tx.QueryRowContext(ctx, t.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (t *sqlTx) Set(ctx context.Context, key string, value int64) error {
	res, err := t.tx.ExecContext(ctx, t.queries.set, value, key)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return requireRow(res, key)
}

// requireRow turns an UPDATE that matched nothing into ErrCounterNotFound.
func requireRow(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrCounterNotFound, key)
	}
	return nil
}
