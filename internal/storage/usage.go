package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mailpace/internal/model"
	"mailpace/internal/timeseries"
)

var ownerTables = map[model.QuotaOwner]string{
	model.OwnerCustomer: "customers",
	model.OwnerServer:   "sending_servers",
}

// LoadUsage reads the last saved usage snapshot for owner.
func (s *Store) LoadUsage(ctx context.Context, owner model.QuotaOwner, id int64) (timeseries.Series, error) {
	table, ok := ownerTables[owner]
	if !ok {
		return nil, fmt.Errorf("unknown quota owner %q", owner)
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT quota_usage FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(string(owner), id)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s usage: %w", owner, err)
	}
	return timeseries.Parse(data), nil
}

// SaveUsage replaces the usage snapshot for owner.
func (s *Store) SaveUsage(ctx context.Context, owner model.QuotaOwner, id int64, series timeseries.Series) error {
	table, ok := ownerTables[owner]
	if !ok {
		return fmt.Errorf("unknown quota owner %q", owner)
	}
	res, err := s.execRetry(ctx, `UPDATE `+table+` SET quota_usage = ? WHERE id = ?`, series.Format(), id)
	if err != nil {
		return fmt.Errorf("save %s usage: %w", owner, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(string(owner), id)
	}
	return nil
}
