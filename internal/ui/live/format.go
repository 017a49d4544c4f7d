package live

import (
	"strconv"
	"time"

	"mailpace/internal/dispatch"
	"mailpace/internal/logger"
)

// formatWorker returns the display id for a worker row.
func formatWorker(index int) string {
	return "W" + pad2(index)
}

// pad2 left-pads a number to two digits when needed.
func pad2(value int) string {
	if value >= 10 {
		return fmtInt(value)
	}
	return "0" + fmtInt(value)
}

// fmtInt converts an int to string.
func fmtInt(value int) string {
	return strconv.Itoa(value)
}

// formatStatus renders a status string for a row.
func formatStatus(row WorkerRow) string {
	switch row.Status {
	case "":
		return "queued"
	case dispatch.EventWorkerStart, dispatch.EventDelivered, dispatch.EventFailed:
		return "sending"
	case dispatch.EventServerSkipped:
		return "picking server"
	case dispatch.EventServersWaiting:
		return "waiting quota"
	case dispatch.EventWorkerEnd:
		if row.Error != "" {
			return "stopped"
		}
		return "done"
	}
	return string(row.Status)
}

// formatRowDuration renders how long a worker has been running.
func formatRowDuration(row WorkerRow, now time.Time) string {
	if row.StartedAt.IsZero() {
		return "-"
	}
	end := now
	if !row.FinishedAt.IsZero() {
		end = row.FinishedAt
	}
	return formatDuration(end.Sub(row.StartedAt))
}

// formatLast renders the latest recipient and server, or the error.
func formatLast(row WorkerRow) string {
	if row.Status == dispatch.EventWorkerEnd && row.Error != "" {
		return truncate(row.Error, 80)
	}
	if row.LastRecipient == "" {
		return ""
	}
	return truncate(logger.MaskEmail(row.LastRecipient)+" via "+row.LastServer, 80)
}

// truncate shortens text to limit characters.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit-3] + "..."
}

// formatDuration renders a rounded duration for display.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	return duration.Round(100 * time.Millisecond).String()
}
