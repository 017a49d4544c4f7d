//go:build unix

package file

import (
	"testing"
	"time"

	"mailpace/internal/backend"
)

func newBackendForTest(t *testing.T, timeout time.Duration) *Backend {
	t.Helper()
	b, err := New(Config{
		Dir:     t.TempDir(),
		Options: backend.Options{Timeout: timeout, PollInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	return b
}
