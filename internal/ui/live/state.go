package live

import (
	"time"

	"mailpace/internal/dispatch"
	"mailpace/internal/model"
)

// WorkerRow holds UI state for a single worker.
type WorkerRow struct {
	Index         int
	Status        dispatch.EventType
	Sent          int
	Failed        int
	Skips         int
	Waits         int
	LastRecipient string
	LastServer    string
	StartedAt     time.Time
	FinishedAt    time.Time
	Error         string
}

// StatusCounts aggregates delivery counts across workers.
type StatusCounts struct {
	Sent    int
	Failed  int
	Skipped int
	Waits   int
	Active  int
}

// State captures the live UI state for a campaign run.
type State struct {
	RunID        string
	CampaignID   int64
	CampaignName string
	Recipients   int
	StartedAt    time.Time
	LastEvent    string
	Rows         []WorkerRow
	Counts       StatusCounts
	Final        model.CampaignStatus
}

// Progress is the fraction of recipients attempted so far.
func (s State) Progress() float64 {
	if s.Recipients == 0 {
		return 0
	}
	return float64(s.Counts.Sent+s.Counts.Failed) / float64(s.Recipients)
}
