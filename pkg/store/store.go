// Package store is the transactional certificate store: a thin
// repository layer over database/sql that the TX pipeline and CA service
// drive with a caller-supplied connection (the block's transaction, a
// fresh one for genesis, or the bare *sql.DB for read-only queries).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Dialect identifies which SQL driver and migration set a Store was opened
// with.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Every repository method
// takes one, so the TX pipeline can pass the block's in-flight transaction
// while read paths outside a block can pass the bare DB handle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the pooled connection and dispatches to the dialect the DSN
// names.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

// Open dispatches on the DSN's scheme: "postgres://" or "postgresql://"
// selects the lib/pq driver, anything else (including a bare file path or
// ":memory:") is treated as a modernc.org/sqlite data source, which is the
// default for a single-node deployment with no external database.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dialect := DialectSQLite
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = DialectPostgres
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db, dialect: dialect, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("store opened", "dialect", dialect)
	return s, nil
}

// DB returns the pooled handle for read-only callers that have no block
// transaction to participate in.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports which driver this store was opened with.
func (s *Store) Dialect() Dialect { return s.dialect }

// BeginTx opens a transaction for the TX pipeline to run one block's
// worth of DeliverTx work (or the genesis load) inside.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) Close() error { return s.db.Close() }

// migrate applies the dialect's embedded schema. The schema is a single,
// idempotent (IF NOT EXISTS) file, so there is no versioned migration
// ledger to maintain here.
func (s *Store) migrate(ctx context.Context) error {
	migrationsFS := sqliteMigrations
	dir := "migrations/sqlite"
	if s.dialect == DialectPostgres {
		migrationsFS = postgresMigrations
		dir = "migrations/postgres"
	}
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
