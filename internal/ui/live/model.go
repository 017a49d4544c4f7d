package live

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const defaultTickInterval = 200 * time.Millisecond

// Options configures the live UI.
type Options struct {
	NoColor      bool
	TickInterval time.Duration
	// OnInterrupt runs when the user presses ctrl+c or q. The terminal is in
	// raw mode while the UI runs, so no SIGINT reaches the process.
	OnInterrupt func()
}

// Model is the Bubble Tea model of one dispatch run.
type Model struct {
	state       State
	workers     table.Model
	events      <-chan Event
	opts        Options
	now         time.Time
	interrupted bool
}

// NewModel builds a model fed by events.
func NewModel(events <-chan Event, opts Options) Model {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	workers := table.New(
		table.WithColumns(defaultColumns()),
		table.WithFocused(false),
	)
	workers.SetStyles(tableStyles(opts.NoColor))
	return Model{
		workers: workers,
		events:  events,
		opts:    opts,
		now:     time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick(m.opts.TickInterval))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.interrupted {
				m.interrupted = true
				if m.opts.OnInterrupt != nil {
					m.opts.OnInterrupt()
				}
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.workers.SetWidth(msg.Width)
		m.workers.SetHeight(max(msg.Height-6, 1))
		m.workers.SetColumns(columnsForWidth(msg.Width))
		return m, nil
	case EventMsg:
		m = m.apply(msg.Event)
		return m, waitForEvent(m.events)
	case tickMsg:
		m.now = time.Time(msg)
		m.workers.SetRows(rowsForState(m.state, m.now))
		return m, tick(m.opts.TickInterval)
	}
	return m, nil
}

func (m Model) View() string {
	noColor := m.opts.NoColor
	parts := []string{
		renderHeader(m.state, m.now, noColor),
		renderSummary(m.state, noColor),
		renderProgress(m.state, m.workers.Width(), noColor),
		m.workers.View(),
		renderFooter(m.state, noColor),
	}
	if m.interrupted && m.state.Final == "" {
		parts = append(parts, stylize("Stopping workers...", noColor, lipgloss.Color("214")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// EventMsg delivers an observer event to the model.
type EventMsg struct {
	Event Event
}

type tickMsg time.Time

// waitForEvent reads the next event; a closed channel quits the program.
func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		event, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return EventMsg{Event: event}
	}
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) apply(event Event) Model {
	switch event.Kind {
	case EventRunStart:
		m.state = Begin(event.Run)
		m.state.StartedAt = m.now
	case EventDispatch:
		m.state = Reduce(m.state, event.Dispatch)
	case EventRunEnd:
		m.state = Finish(m.state, event.Result)
	}
	m.workers.SetRows(rowsForState(m.state, m.now))
	return m
}
