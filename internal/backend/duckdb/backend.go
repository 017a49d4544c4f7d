// Package duckdb keeps quota series in the quota_series table of the
// application database. In-process callers are serialized per key; the
// transaction guards against writers in other connections.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"mailpace/internal/backend"
	"mailpace/internal/storage"
	"mailpace/internal/timeseries"
)

// Backend stores series rows in DuckDB.
type Backend struct {
	db   *sql.DB
	opts backend.Options

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New returns a Backend over db. The storage schema must be applied.
func New(db *sql.DB, opts backend.Options) *Backend {
	return &Backend{db: db, opts: opts.Normalize(), locks: map[string]*sync.RWMutex{}}
}

func (b *Backend) lock(key string) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		b.locks[key] = l
	}
	return l
}

// Exclusive loads, mutates and stores the series for key in one
// transaction. fn may run again if the transaction loses a write conflict.
func (b *Backend) Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	l := b.lock(key)
	if err := backend.Poll(ctx, b.opts, key, func() (bool, error) { return l.TryLock(), nil }); err != nil {
		return err
	}
	defer l.Unlock()

	var fnErr error
	err := backend.Poll(ctx, b.opts, key, func() (bool, error) {
		fnErr = nil
		err := b.update(ctx, key, func(series *timeseries.Series) error {
			fnErr = fn(series)
			return fnErr
		})
		switch {
		case fnErr != nil:
			return true, nil
		case storage.IsConflict(err):
			return false, nil
		default:
			return err == nil, err
		}
	})
	if err != nil {
		return err
	}
	return fnErr
}

func (b *Backend) update(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_series (key, points) VALUES (?, '') ON CONFLICT (key) DO NOTHING`, key); err != nil {
		return fmt.Errorf("ensure series %s: %w", key, err)
	}
	var data string
	if err := tx.QueryRowContext(ctx, `SELECT points FROM quota_series WHERE key = ?`, key).Scan(&data); err != nil {
		return fmt.Errorf("load series %s: %w", key, err)
	}
	series := timeseries.Parse(data)
	if err := fn(&series); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quota_series SET points = ?, updated_at = now() WHERE key = ?`, series.Format(), key); err != nil {
		return fmt.Errorf("store series %s: %w", key, err)
	}
	return tx.Commit()
}

// Shared hands fn the committed series for key.
func (b *Backend) Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error {
	l := b.lock(key)
	if err := backend.Poll(ctx, b.opts, key, func() (bool, error) { return l.TryRLock(), nil }); err != nil {
		return err
	}
	defer l.RUnlock()

	var data string
	err := b.db.QueryRowContext(ctx, `SELECT points FROM quota_series WHERE key = ?`, key).Scan(&data)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load series %s: %w", key, err)
	}
	return fn(timeseries.Parse(data))
}
