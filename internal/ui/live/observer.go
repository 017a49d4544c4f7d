package live

import (
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"mailpace/internal/dispatch"
)

// Controller runs the live UI and implements dispatch.Observer.
type Controller struct {
	events    chan Event
	program   *tea.Program
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Start launches a live UI controller that writes to stdout.
func Start(stdout io.Writer, opts Options) *Controller {
	if stdout == nil {
		stdout = os.Stdout
	}
	events := make(chan Event, 256)
	model := NewModel(events, opts)
	program := tea.NewProgram(model, tea.WithOutput(stdout), tea.WithAltScreen())
	controller := &Controller{
		events:  events,
		program: program,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(controller.done)
	}()
	return controller
}

// Close signals the UI to stop.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
}

// Wait blocks until the UI has exited.
func (c *Controller) Wait() {
	if c == nil {
		return
	}
	<-c.done
}

// OnRunStart forwards run start events to the UI.
func (c *Controller) OnRunStart(info dispatch.RunInfo) {
	c.send(Event{Kind: EventRunStart, Run: info})
}

// OnEvent forwards worker updates to the UI.
func (c *Controller) OnEvent(event dispatch.Event) {
	c.send(Event{Kind: EventDispatch, Dispatch: event})
}

// OnRunEnd forwards run completion to the UI and closes it.
func (c *Controller) OnRunEnd(result dispatch.Result) {
	c.send(Event{Kind: EventRunEnd, Result: result})
	c.Close()
}

// send enqueues an event without blocking the caller. Workers call it
// concurrently, so a closed controller drops the event.
func (c *Controller) send(event Event) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}
