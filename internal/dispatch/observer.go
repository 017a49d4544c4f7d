package dispatch

import (
	"time"

	"mailpace/internal/model"
)

// EventType identifies a dispatch update for observers.
type EventType string

const (
	// EventWorkerStart marks a worker beginning its chunk.
	EventWorkerStart EventType = "worker_start"
	// EventDelivered marks a message accepted by its transport.
	EventDelivered EventType = "delivered"
	// EventFailed marks a delivery recorded as failed.
	EventFailed EventType = "failed"
	// EventServerSkipped marks a server passed over for being over quota.
	EventServerSkipped EventType = "server_skipped"
	// EventServersWaiting marks a backoff because every server was over quota.
	EventServersWaiting EventType = "servers_waiting"
	// EventWorkerEnd marks a worker leaving its loop.
	EventWorkerEnd EventType = "worker_end"
)

// Event carries a single update from a worker.
type Event struct {
	CampaignID int64
	Worker     int
	Type       EventType
	Recipient  string
	Server     string
	Error      string
	EmittedAt  time.Time
}

// RunInfo describes a run once its recipients are known.
type RunInfo struct {
	RunID        string
	CampaignID   int64
	CampaignName string
	Recipients   int
	Workers      int
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	CampaignID int64
	Status     model.CampaignStatus
	Recipients int
	Workers    int
	Sent       int
	Failed     int
	Error      string
}

// Observer receives dispatch lifecycle events for UI or logging. OnEvent is
// called from worker goroutines concurrently.
type Observer interface {
	OnRunStart(info RunInfo)
	OnEvent(event Event)
	OnRunEnd(result Result)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(RunInfo) {}
func (NoopObserver) OnEvent(Event)      {}
func (NoopObserver) OnRunEnd(Result)    {}
