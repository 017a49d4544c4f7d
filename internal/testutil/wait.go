package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond every interval and fails the test with msg when it
// is still false after timeout.
func Eventually(t *testing.T, timeout, interval time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			if msg == "" {
				msg = "condition not met before timeout"
			}
			t.Fatalf("%s (after %s)", msg, timeout)
		}
		time.Sleep(interval)
	}
}

// RunWithTimeout runs fn and fails the test if it has not returned within
// timeout. fn keeps running in its goroutine after a failure.
func RunWithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("timed out after %s", timeout)
	}
}
