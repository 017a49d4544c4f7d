// Package testutil holds clocks, contexts and wait helpers shared by tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Second

type deadliner interface {
	Deadline() (time.Time, bool)
}

// Context returns a context canceled at test cleanup or after timeout,
// whichever comes first. The timeout shrinks to leave a second before the
// go test -timeout deadline. A non-positive timeout means five seconds.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if d, ok := t.(deadliner); ok {
		if deadline, ok := d.Deadline(); ok {
			if left := time.Until(deadline) - time.Second; left > 0 {
				timeout = min(timeout, left)
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
