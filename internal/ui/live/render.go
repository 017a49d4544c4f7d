package live

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the run header line.
func renderHeader(state State, now time.Time, noColor bool) string {
	line := "Run " + state.RunID
	if state.CampaignName != "" {
		line += " | Campaign: " + state.CampaignName
	}
	if !state.StartedAt.IsZero() {
		line += " | Elapsed: " + now.Sub(state.StartedAt).Round(100*time.Millisecond).String()
	}
	return stylize(line, noColor, lipgloss.Color("33"))
}

// renderSummary renders the delivery counts line.
func renderSummary(state State, noColor bool) string {
	counts := state.Counts
	line := "Recipients: " + fmtInt(state.Recipients) +
		" Sent: " + fmtInt(counts.Sent) +
		" Failed: " + fmtInt(counts.Failed) +
		" Skipped: " + fmtInt(counts.Skipped) +
		" Waits: " + fmtInt(counts.Waits) +
		" Workers: " + fmtInt(counts.Active) + "/" + fmtInt(len(state.Rows))
	if state.Final != "" {
		line += " | " + string(state.Final)
	}
	return stylize(line, noColor, lipgloss.Color("242"))
}

// renderProgress renders a bar of attempted recipients.
func renderProgress(state State, width int, noColor bool) string {
	percent := strconv.FormatFloat(state.Progress()*100, 'f', 1, 64) + "%"
	barWidth := max(width-len(percent)-3, 10)
	filled := min(int(state.Progress()*float64(barWidth)), barWidth)
	bar := "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "] " + percent
	return stylize(bar, noColor, lipgloss.Color("36"))
}

// renderFooter renders the last event line.
func renderFooter(state State, noColor bool) string {
	if state.LastEvent == "" {
		return ""
	}
	return stylize("Last event: "+state.LastEvent, noColor, lipgloss.Color("244"))
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
