package dispatch

import "errors"

var (
	// ErrNotReady reports a campaign another runner claimed or that was not queued.
	ErrNotReady = errors.New("campaign is not ready")
	// ErrQuotaExceeded reports a customer over its sending quota.
	ErrQuotaExceeded = errors.New("customer has reached sending limit")
	// ErrNoServerAvailable reports a list without a selectable sending server.
	ErrNoServerAvailable = errors.New("no sending server available")
	// ErrServersExhausted reports every server staying over quota past MaxServerWait.
	ErrServersExhausted = errors.New("all sending servers exceed sending limit")
	// ErrWorkerAbnormalExit reports a worker that panicked.
	ErrWorkerAbnormalExit = errors.New("worker did not exit normally")
)

// errStopped ends a worker whose campaign left the sending state.
var errStopped = errors.New("campaign stopped")
