// Package redis keeps quota series in Redis so workers on different hosts
// share one view of each key. A SET NX lease with a fencing token provides
// the exclusive lock; readers wait for the lease to clear and then read the
// value atomically.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mailpace/internal/backend"
	"mailpace/internal/timeseries"
)

// ErrLockLost reports that the lease expired before the write landed.
var ErrLockLost = errors.New("quota lock lost before write")

// Config configures a Redis backend.
type Config struct {
	KeyPrefix string
	// LockTTL bounds how long a crashed holder can block others.
	LockTTL time.Duration
	Options backend.Options
}

// Backend stores series as comma-joined strings in Redis.
type Backend struct {
	client redis.UniversalClient
	cfg    Config
}

// New returns a Backend using client.
func New(client redis.UniversalClient, cfg Config) *Backend {
	cfg.Options = cfg.Options.Normalize()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mailpace:quota:"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Options.Timeout
	}
	return &Backend{client: client, cfg: cfg}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var fencedSetScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

func (b *Backend) dataKey(key string) string { return b.cfg.KeyPrefix + key }
func (b *Backend) lockKey(key string) string { return b.cfg.KeyPrefix + key + ":lock" }

// Exclusive holds the lease for key while fn mutates the series.
func (b *Backend) Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	lockKey := b.lockKey(key)
	token := uuid.NewString()
	err := backend.Poll(ctx, b.cfg.Options, key, func() (bool, error) {
		ok, err := b.client.SetNX(ctx, lockKey, token, b.cfg.LockTTL).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), b.client, []string{lockKey}, token).Err()
	}()

	series, err := b.load(ctx, key)
	if err != nil {
		return err
	}
	if err := fn(&series); err != nil {
		return err
	}
	written, err := fencedSetScript.Run(ctx, b.client, []string{lockKey, b.dataKey(key)}, token, series.Format()).Int()
	if err != nil {
		return fmt.Errorf("redis store %s: %w", key, err)
	}
	if written == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}
	return nil
}

// Shared waits until no lease is held and hands fn the stored series.
func (b *Backend) Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error {
	lockKey := b.lockKey(key)
	err := backend.Poll(ctx, b.cfg.Options, key, func() (bool, error) {
		n, err := b.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return false, fmt.Errorf("redis exists: %w", err)
		}
		return n == 0, nil
	})
	if err != nil {
		return err
	}
	series, err := b.load(ctx, key)
	if err != nil {
		return err
	}
	return fn(series)
}

func (b *Backend) load(ctx context.Context, key string) (timeseries.Series, error) {
	data, err := b.client.Get(ctx, b.dataKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return timeseries.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return timeseries.Parse(data), nil
}
