// Package quota counts sends against fixed quotas and sliding rate limits.
//
// A Tracker caches one time series loaded from a backend.Backend. Every read
// or write runs inside a lock section that reloads the series, so state is
// shared through the backend only. A Tracker must not be shared between
// goroutines; build one per worker for the same key instead.
package quota

import (
	"context"
	"math"
	"time"

	"mailpace/internal/backend"
	"mailpace/internal/timeseries"
)

// Unlimited disables a quota or limit.
const Unlimited int64 = -1

// Definition is a fixed quota counted from Start.
type Definition struct {
	Start time.Time
	Max   int64
}

// Limit caps points within a sliding window.
type Limit struct {
	Interval Interval
	Max      int64
}

// Config describes what a tracker enforces for one key.
type Config struct {
	Key    string
	Quota  *Definition
	Limits []Limit
}

type lockMode int

const (
	unlocked lockMode = iota
	sharedLock
	exclusiveLock
)

// Tracker enforces a quota and ordered rate limits over a stored series.
type Tracker struct {
	backend backend.Backend
	key     string
	quota   *Definition
	limits  []Limit
	series  timeseries.Series
	held    lockMode
}

// New builds a tracker for cfg.Key on b.
func New(b backend.Backend, cfg Config) *Tracker {
	var quota *Definition
	if cfg.Quota != nil {
		q := *cfg.Quota
		quota = &q
	}
	return &Tracker{
		backend: b,
		key:     cfg.Key,
		quota:   quota,
		limits:  append([]Limit(nil), cfg.Limits...),
		series:  timeseries.Series{},
	}
}

// Key returns the backend key.
func (t *Tracker) Key() string {
	return t.key
}

// Exclusive runs fn holding the exclusive lock. The series fn leaves behind
// is persisted when fn returns nil.
//
// Nested calls run fn directly under the lock already held. Inside a Shared
// section fn still sees and changes the cached series, but a shared section
// persists nothing: those changes are discarded when the next section
// reloads the series.
func (t *Tracker) Exclusive(ctx context.Context, fn func(*Tracker) error) error {
	if t.held != unlocked {
		return fn(t)
	}
	return t.backend.Exclusive(ctx, t.key, func(series *timeseries.Series) error {
		t.series = *series
		t.held = exclusiveLock
		defer func() { t.held = unlocked }()
		if err := fn(t); err != nil {
			return err
		}
		*series = t.series
		return nil
	})
}

// Shared runs fn holding a shared lock. Changes fn makes are not persisted.
// Nested calls run fn directly.
func (t *Tracker) Shared(ctx context.Context, fn func(*Tracker) error) error {
	if t.held != unlocked {
		return fn(t)
	}
	return t.backend.Shared(ctx, t.key, func(series timeseries.Series) error {
		t.series = series
		t.held = sharedLock
		defer func() { t.held = unlocked }()
		return fn(t)
	})
}

// Check reports whether one more point at `at` passes the quota and every
// limit.
func (t *Tracker) Check(ctx context.Context, at time.Time) (bool, error) {
	var ok bool
	err := t.Shared(ctx, func(t *Tracker) error {
		ok = t.check(at)
		return nil
	})
	return ok, err
}

// Add checks and, only if the check passes, appends `at`, all in one
// exclusive section. Points outside every window are trimmed on the way.
func (t *Tracker) Add(ctx context.Context, at time.Time) (bool, error) {
	var ok bool
	err := t.Exclusive(ctx, func(t *Tracker) error {
		t.series = t.series.Since(t.retentionCutoff(at))
		ok = t.check(at)
		if ok {
			t.series.Append(at.Unix())
		}
		return nil
	})
	return ok, err
}

// Record appends `at` without checking. It accounts for sends that already
// happened.
func (t *Tracker) Record(ctx context.Context, at time.Time) error {
	return t.Exclusive(ctx, func(t *Tracker) error {
		t.series.Append(at.Unix())
		return nil
	})
}

func (t *Tracker) check(at time.Time) bool {
	if t.quota != nil && t.quota.Max != Unlimited {
		if int64(t.series.CountSince(t.quota.Start.Unix())) >= t.quota.Max {
			return false
		}
	}
	for _, limit := range t.limits {
		if limit.Max == Unlimited {
			continue
		}
		if int64(t.series.CountSince(limit.Interval.Before(at).Unix())) >= limit.Max {
			return false
		}
	}
	return true
}

// FallbackWindow is the window used when Usage gets no interval and no
// quota is defined: the first limit's interval.
func (t *Tracker) FallbackWindow() (Interval, bool) {
	if len(t.limits) == 0 {
		return Interval{}, false
	}
	return t.limits[0].Interval, true
}

// cutoff is the first second counted by Usage.
func (t *Tracker) cutoff(at time.Time, interval *Interval) int64 {
	switch {
	case interval != nil:
		return interval.Before(at).Unix()
	case t.quota != nil:
		return t.quota.Start.Unix()
	}
	if window, ok := t.FallbackWindow(); ok {
		return window.Before(at).Unix()
	}
	return math.MinInt64
}

// retentionCutoff is the oldest second any check can still count.
func (t *Tracker) retentionCutoff(at time.Time) int64 {
	cutoff := int64(math.MaxInt64)
	if t.quota != nil {
		cutoff = t.quota.Start.Unix()
	}
	for _, limit := range t.limits {
		if start := limit.Interval.Before(at).Unix(); start < cutoff {
			cutoff = start
		}
	}
	if cutoff == math.MaxInt64 {
		return math.MinInt64
	}
	return cutoff
}

// Usage counts points in interval ending at `at`. A nil interval counts
// from the quota start, or over FallbackWindow when there is no quota.
func (t *Tracker) Usage(ctx context.Context, at time.Time, interval *Interval) (int, error) {
	var n int
	err := t.Shared(ctx, func(t *Tracker) error {
		n = t.series.CountSince(t.cutoff(at, interval))
		return nil
	})
	return n, err
}

// Series returns the points Usage would count.
func (t *Tracker) Series(ctx context.Context, at time.Time, interval *Interval) (timeseries.Series, error) {
	var out timeseries.Series
	err := t.Shared(ctx, func(t *Tracker) error {
		out = t.series.Since(t.cutoff(at, interval))
		return nil
	})
	return out, err
}

// Ceiling is the quota max, or the first limit's max without a quota.
func (t *Tracker) Ceiling() int64 {
	if t.quota != nil {
		return t.quota.Max
	}
	if len(t.limits) > 0 {
		return t.limits[0].Max
	}
	return Unlimited
}

// UsagePercentage returns usage over Ceiling as a fraction. An unlimited
// ceiling reports 0 and a zero ceiling reports 1.
func (t *Tracker) UsagePercentage(ctx context.Context, at time.Time, interval *Interval) (float64, error) {
	ceiling := t.Ceiling()
	if ceiling == Unlimited {
		return 0, nil
	}
	if ceiling <= 0 {
		return 1, nil
	}
	used, err := t.Usage(ctx, at, interval)
	if err != nil {
		return 0, err
	}
	return float64(used) / float64(ceiling), nil
}

// Reset replaces the cached series. Call it inside Exclusive; outside a
// section the change is dropped at the next load.
func (t *Tracker) Reset(series timeseries.Series) {
	t.series = series.Clone()
}

// Source supplies the durable history a tracker can be rebuilt from.
type Source interface {
	// Snapshot returns the last saved series.
	Snapshot(ctx context.Context) (timeseries.Series, error)
	// EventsSince returns event timestamps at or after since, oldest first.
	EventsSince(ctx context.Context, since time.Time) (timeseries.Series, error)
}

// Renew rebuilds the stored series from the snapshot plus events newer than
// its last point, counting events no earlier than since.
func (t *Tracker) Renew(ctx context.Context, since time.Time, src Source) error {
	return t.Exclusive(ctx, func(t *Tracker) error {
		stored, err := src.Snapshot(ctx)
		if err != nil {
			return err
		}
		from := since
		if last, ok := stored.Last(); ok && last > since.Unix() {
			from = time.Unix(last, 0)
		}
		events, err := src.EventsSince(ctx, from)
		if err != nil {
			return err
		}
		t.Reset(stored.Merge(events))
		return nil
	})
}

// Cleanup drops points older than every window.
func (t *Tracker) Cleanup(ctx context.Context, at time.Time) error {
	return t.Exclusive(ctx, func(t *Tracker) error {
		t.series = t.series.Since(t.retentionCutoff(at))
		return nil
	})
}

// First returns the oldest stored point.
func (t *Tracker) First(ctx context.Context) (time.Time, bool, error) {
	return t.edge(ctx, timeseries.Series.First)
}

// Last returns the newest stored point.
func (t *Tracker) Last(ctx context.Context) (time.Time, bool, error) {
	return t.edge(ctx, timeseries.Series.Last)
}

func (t *Tracker) edge(ctx context.Context, pick func(timeseries.Series) (int64, bool)) (time.Time, bool, error) {
	var (
		point int64
		ok    bool
	)
	err := t.Shared(ctx, func(t *Tracker) error {
		point, ok = pick(t.series)
		return nil
	})
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.Unix(point, 0), true, nil
}
