// Package storage persists customers, servers, lists, campaigns and tracking
// logs in DuckDB.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("not found")

// schemaDDL holds the DuckDB schema definition.
//
//go:embed schema.sql
var schemaDDL string

// SchemaDDL returns the schema DDL used for initializing DuckDB databases.
func SchemaDDL() string {
	return schemaDDL
}

// EnsureSchema applies the schema DDL to the provided database connection.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("storage: db is nil")
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store wraps the DuckDB handle.
type Store struct {
	db *sql.DB
}

// Open connects to the DuckDB database at dsn and applies the schema. An
// empty dsn or ":memory:" opens an in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle whose schema is already applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsConflict reports whether err is a DuckDB write-write conflict, which the
// losing transaction may retry.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict")
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}

// timeOrZero unwraps a nullable timestamp.
func timeOrZero(value sql.NullTime) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return value.Time.UTC()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const conflictBackoff = 5 * time.Millisecond

// execRetry runs an unconditional write, retrying while it loses
// write-write conflicts to concurrent transactions.
func (s *Store) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	for {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil || !IsConflict(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(conflictBackoff):
		}
	}
}
