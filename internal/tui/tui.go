// Package tui provides the terminal dashboard using bubbletea.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/dashboard"
	"github.com/npratt/dobi/internal/events"
	"github.com/npratt/dobi/internal/throttle"
)

// DefaultLogEntries is how many lines the event log keeps.
const DefaultLogEntries = 50

// Controller is the part of the dashboard the TUI drives.
type Controller interface {
	Snapshot() dashboard.View
	Connect(ctx context.Context, target connection.Target) error
	Disconnect()
	Press(dir backend.Direction) throttle.Outcome
	Stop() throttle.Outcome
}

// TUI is the terminal dashboard.
type TUI struct {
	ctrl       Controller
	eventChan  <-chan events.Event
	onQuit     func()
	logEntries int
}

// Option configures the TUI.
type Option func(*TUI)

// New creates a TUI that renders ctrl and the events on eventChan.
func New(ctrl Controller, eventChan <-chan events.Event, opts ...Option) *TUI {
	t := &TUI{
		ctrl:       ctrl,
		eventChan:  eventChan,
		logEntries: DefaultLogEntries,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithOnQuit sets the callback invoked when the user quits.
func WithOnQuit(fn func()) Option {
	return func(t *TUI) {
		t.onQuit = fn
	}
}

// WithLogEntries sets how many event log lines are kept.
func WithLogEntries(n int) Option {
	return func(t *TUI) {
		if n > 0 {
			t.logEntries = n
		}
	}
}

// Run starts the TUI and blocks until it exits.
func (t *TUI) Run() error {
	m := newModel(t.ctrl, t.eventChan, t.onQuit, t.logEntries)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
