package quota

import (
	"context"
	"testing"
	"time"

	"mailpace/internal/backend"
	"mailpace/internal/backend/memory"
	"mailpace/internal/testutil"
	"mailpace/internal/timeseries"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMemoryBackendForTest() *memory.MemoryBackend {
	return memory.New(backend.Options{Timeout: time.Second, PollInterval: time.Millisecond})
}

func mustAdd(t *testing.T, tracker *Tracker, at time.Time) bool {
	t.Helper()
	ok, err := tracker.Add(testutil.Context(t, time.Second), at)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return ok
}

func mustCheck(t *testing.T, tracker *Tracker, at time.Time) bool {
	t.Helper()
	ok, err := tracker.Check(testutil.Context(t, time.Second), at)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	return ok
}

func mustUsage(t *testing.T, tracker *Tracker, at time.Time, interval *Interval) int {
	t.Helper()
	n, err := tracker.Usage(testutil.Context(t, time.Second), at, interval)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	return n
}

func storedSeries(t *testing.T, b backend.Backend, key string) timeseries.Series {
	t.Helper()
	var out timeseries.Series
	if err := b.Shared(testutil.Context(t, time.Second), key, func(series timeseries.Series) error {
		out = series
		return nil
	}); err != nil {
		t.Fatalf("read stored series: %v", err)
	}
	return out
}

type staticSource struct {
	snapshot timeseries.Series
	events   timeseries.Series
	since    time.Time
}

func (s *staticSource) Snapshot(context.Context) (timeseries.Series, error) {
	return s.snapshot, nil
}

func (s *staticSource) EventsSince(_ context.Context, since time.Time) (timeseries.Series, error) {
	s.since = since
	return s.events.Since(since.Unix()), nil
}
