// Package memory keeps quota series in process memory. Locks are
// goroutine-scoped so it only coordinates workers inside one process.
package memory

import (
	"context"
	"sync"

	"mailpace/internal/backend"
	"mailpace/internal/timeseries"
)

// MemoryBackend stores series in memory guarded by per-key RW locks.
type MemoryBackend struct {
	mu      sync.Mutex
	opts    backend.Options
	entries map[string]*entry
}

type entry struct {
	lock   sync.RWMutex
	series timeseries.Series
}

// New creates a MemoryBackend.
func New(opts backend.Options) *MemoryBackend {
	return &MemoryBackend{
		opts:    opts.Normalize(),
		entries: map[string]*entry{},
	}
}

func (m *MemoryBackend) entry(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// Exclusive runs fn with sole access to the series for key.
func (m *MemoryBackend) Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	e := m.entry(key)
	if err := backend.Poll(ctx, m.opts, key, func() (bool, error) { return e.lock.TryLock(), nil }); err != nil {
		return err
	}
	defer e.lock.Unlock()
	working := e.series.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	e.series = working
	return nil
}

// Shared runs fn with a snapshot of the series for key.
func (m *MemoryBackend) Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error {
	e := m.entry(key)
	if err := backend.Poll(ctx, m.opts, key, func() (bool, error) { return e.lock.TryRLock(), nil }); err != nil {
		return err
	}
	defer e.lock.RUnlock()
	return fn(e.series.Clone())
}

// Keys lists the keys that have been touched.
func (m *MemoryBackend) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for key := range m.entries {
		out = append(out, key)
	}
	return out
}
