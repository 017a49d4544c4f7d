package live

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// tableStyles returns table styles for the UI.
func tableStyles(noColor bool) table.Styles {
	if noColor {
		return table.DefaultStyles()
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(lipgloss.Color("252"))
	return styles
}

// defaultColumns returns the columns used before the first resize.
func defaultColumns() []table.Column {
	return columnsForWidth(100)
}

// columnsForWidth sizes the columns to the terminal width.
func columnsForWidth(width int) []table.Column {
	const fixed = 4 + 16 + 6 + 6 + 6 + 9
	rest := max(width-fixed-12, 20)
	return []table.Column{
		{Title: "W", Width: 4},
		{Title: "Status", Width: 16},
		{Title: "Sent", Width: 6},
		{Title: "Failed", Width: 6},
		{Title: "Waits", Width: 6},
		{Title: "Elapsed", Width: 9},
		{Title: "Last", Width: rest},
	}
}

// rowsForState converts UI state into table rows.
func rowsForState(state State, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(state.Rows))
	for _, row := range state.Rows {
		rows = append(rows, table.Row{
			formatWorker(row.Index),
			formatStatus(row),
			fmtInt(row.Sent),
			fmtInt(row.Failed),
			fmtInt(row.Waits),
			formatRowDuration(row, now),
			formatLast(row),
		})
	}
	return rows
}
