package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrStorageUnavailable is returned by OpenWithRetry once every attempt has failed.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB wraps a SQLite or PostgreSQL connection.
type DB struct {
	conn    *sql.DB
	path    string
	dialect Dialect
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Cycles write one product at a time; a single connection keeps WAL writers serialized.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=10000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	db := &DB{conn: conn, path: dbPath, dialect: SQLite}
	if err := migrate(db); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := &DB{conn: conn, dialect: Postgres}
	if err := migrate(db); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

// Opener opens a storage connection once. OpenWithRetry calls it repeatedly.
type Opener func(ctx context.Context) (*DB, error)

// OpenWithRetry calls open up to attempts times, sleeping delay between failures.
// When the budget is spent the last error is returned wrapped in ErrStorageUnavailable.
func OpenWithRetry(ctx context.Context, open Opener, attempts int, delay time.Duration, logger *slog.Logger) (*DB, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := open(ctx)
		if err == nil {
			if i > 1 {
				logger.Info("storage initialized after retry", "attempt", i)
			}
			return db, nil
		}
		lastErr = err
		logger.Warn("storage init failed", "attempt", i, "max_attempts", attempts, "error", err)

		if i == attempts {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrStorageUnavailable, attempts, lastErr)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path. Empty for PostgreSQL.
func (db *DB) Path() string {
	return db.path
}

// Dialect returns the SQL flavour of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}
