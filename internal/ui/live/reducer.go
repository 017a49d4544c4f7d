package live

import (
	"fmt"

	"mailpace/internal/dispatch"
	"mailpace/internal/logger"
)

// Begin resets the state for a new run.
func Begin(info dispatch.RunInfo) State {
	rows := make([]WorkerRow, info.Workers)
	for i := range rows {
		rows[i] = WorkerRow{Index: i + 1}
	}
	return State{
		RunID:        info.RunID,
		CampaignID:   info.CampaignID,
		CampaignName: info.CampaignName,
		Recipients:   info.Recipients,
		Rows:         rows,
	}
}

// Reduce applies a worker event to the UI state.
func Reduce(state State, event dispatch.Event) State {
	state = ensureRow(state, event.Worker)
	state = applyWorkerEvent(state, event)
	state.Counts = recount(state.Rows)
	if message := formatLastEvent(event); message != "" {
		state.LastEvent = message
	}
	return state
}

// Finish records the run result.
func Finish(state State, result dispatch.Result) State {
	state.Final = result.Status
	if result.Error != "" {
		state.LastEvent = fmt.Sprintf("campaign %s: %s", result.Status, result.Error)
	} else {
		state.LastEvent = fmt.Sprintf("campaign %s", result.Status)
	}
	return state
}

// ensureRow grows the state rows to include the 1-based worker index.
func ensureRow(state State, worker int) State {
	if worker < 1 || worker <= len(state.Rows) {
		return state
	}
	rows := make([]WorkerRow, worker)
	copy(rows, state.Rows)
	for i := len(state.Rows); i < len(rows); i++ {
		rows[i] = WorkerRow{Index: i + 1}
	}
	state.Rows = rows
	return state
}

// applyWorkerEvent updates a row with the given event.
func applyWorkerEvent(state State, event dispatch.Event) State {
	if event.Worker < 1 || event.Worker > len(state.Rows) {
		return state
	}
	row := state.Rows[event.Worker-1]
	row.Status = event.Type
	switch event.Type {
	case dispatch.EventWorkerStart:
		row.StartedAt = event.EmittedAt
	case dispatch.EventDelivered:
		row.Sent++
		row.LastRecipient = event.Recipient
		row.LastServer = event.Server
	case dispatch.EventFailed:
		row.Failed++
		row.LastRecipient = event.Recipient
		row.LastServer = event.Server
		row.Error = event.Error
	case dispatch.EventServerSkipped:
		row.Skips++
	case dispatch.EventServersWaiting:
		row.Waits++
	case dispatch.EventWorkerEnd:
		row.FinishedAt = event.EmittedAt
		if event.Error != "" {
			row.Error = event.Error
		}
	}
	state.Rows[event.Worker-1] = row
	return state
}

// recount recomputes the totals for the current rows.
func recount(rows []WorkerRow) StatusCounts {
	var counts StatusCounts
	for _, row := range rows {
		counts.Sent += row.Sent
		counts.Failed += row.Failed
		counts.Skipped += row.Skips
		counts.Waits += row.Waits
		if row.Status != "" && row.Status != dispatch.EventWorkerEnd {
			counts.Active++
		}
	}
	return counts
}

// formatLastEvent creates a short footer message for the event.
func formatLastEvent(event dispatch.Event) string {
	switch event.Type {
	case dispatch.EventFailed:
		return fmt.Sprintf("W%d delivery to %s failed: %s", event.Worker, logger.MaskEmail(event.Recipient), event.Error)
	case dispatch.EventServerSkipped:
		return fmt.Sprintf("W%d server %s over quota", event.Worker, event.Server)
	case dispatch.EventServersWaiting:
		return fmt.Sprintf("W%d all servers over quota, waiting", event.Worker)
	case dispatch.EventWorkerEnd:
		if event.Error != "" {
			return fmt.Sprintf("W%d stopped: %s", event.Worker, event.Error)
		}
		return fmt.Sprintf("W%d finished", event.Worker)
	}
	return ""
}
