package live

import "mailpace/internal/dispatch"

// EventKind identifies the type of live UI event.
type EventKind int

const (
	// EventRunStart signals the start of a campaign run.
	EventRunStart EventKind = iota
	// EventDispatch delivers a worker update.
	EventDispatch
	// EventRunEnd signals run completion.
	EventRunEnd
)

// Event carries a UI update payload.
type Event struct {
	Kind     EventKind
	Run      dispatch.RunInfo
	Dispatch dispatch.Event
	Result   dispatch.Result
}
