// Package backend defines the persistence and locking contract shared by the
// quota series stores.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailpace/internal/timeseries"
)

// ErrTimeout reports that a lock could not be acquired before the deadline.
var ErrTimeout = errors.New("timed out waiting for lock")

// Backend stores one time series per key and serializes access to it.
//
// Exclusive hands fn a mutable series; when fn returns nil the series is
// persisted before the lock is released, otherwise nothing is written.
// Shared hands fn a read-only snapshot while other shared holders may run
// concurrently and exclusive holders are kept out.
type Backend interface {
	Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error
	Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error
}

const (
	// DefaultTimeout bounds how long a caller waits for a lock.
	DefaultTimeout = 60 * time.Second
	// DefaultPollInterval is the sleep between non-blocking lock attempts.
	DefaultPollInterval = 10 * time.Millisecond
)

// Options configures lock acquisition.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Normalize fills unset fields with defaults.
func (o Options) Normalize() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Poll calls try until it reports success, the timeout elapses, or ctx ends.
// try must not block.
func Poll(ctx context.Context, opts Options, key string, try func() (bool, error)) error {
	opts = opts.Normalize()
	deadline := time.Now().Add(opts.Timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, key, opts.Timeout)
		}
		wait := opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
