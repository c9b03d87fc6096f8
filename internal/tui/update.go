package tui

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/events"
	"github.com/npratt/dobi/internal/throttle"
)

const (
	// tickInterval is how often the dashboard snapshot is refreshed.
	tickInterval = 200 * time.Millisecond
	// connectTimeout bounds a connect started from the keyboard.
	connectTimeout = 15 * time.Second
)

// channelClosedMsg signals that the event channel was closed.
type channelClosedMsg struct{}

// tickMsg signals a periodic snapshot refresh.
type tickMsg time.Time

// connectResultMsg carries the outcome of a connect started from the TUI.
type connectResultMsg struct{ err error }

// disconnectedMsg signals that a requested disconnect finished.
type disconnectedMsg struct{}

// waitForEvent creates a command that waits for the next event from the channel.
// Returns channelClosedMsg if the channel is closed.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg{event}
	}
}

func doTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func connectCmd(ctrl Controller, target connection.Target) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return connectResultMsg{err: ctrl.Connect(ctx, target)}
	}
}

func disconnectCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Disconnect()
		return disconnectedMsg{}
	}
}

// Update implements tea.Model. It handles all message types and updates the model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.modal.IsOpen() {
			return m.handleModalKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.modal.SetWidth(msg.Width)
		return m, nil

	case eventMsg:
		m.handleEvent(msg.Event)
		return m, waitForEvent(m.eventChan)

	case channelClosedMsg:
		slog.Info("event channel closed, exiting TUI")
		return m, tea.Quit

	case tickMsg:
		if m.ctrl != nil {
			m.view = m.ctrl.Snapshot()
		}
		return m, doTick()

	case connectResultMsg:
		m.connecting = false
		if msg.err != nil {
			m.notice = msg.err.Error()
		} else {
			m.notice = ""
		}
		if m.ctrl != nil {
			m.view = m.ctrl.Snapshot()
		}
		return m, nil

	case disconnectedMsg:
		if m.ctrl != nil {
			m.view = m.ctrl.Snapshot()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey processes keyboard input and returns the updated model and command.
func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		if m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit
	}
	if m.ctrl == nil {
		return m, nil
	}

	if dir, ok := m.keys.direction(msg); ok {
		var outcome throttle.Outcome
		if dir == backend.Stop {
			outcome = m.ctrl.Stop()
		} else {
			outcome = m.ctrl.Press(dir)
		}
		m.lastCommand = string(dir) + ": " + outcome.String()
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Connect):
		if m.connecting {
			return m, nil
		}
		m.connecting = true
		m.notice = ""
		return m, tea.Batch(connectCmd(m.ctrl, m.view.Target), m.spinner.Tick)

	case key.Matches(msg, m.keys.Disconnect):
		m.connecting = false
		return m, disconnectCmd(m.ctrl)

	case key.Matches(msg, m.keys.Edit):
		return m, m.modal.Open(m.view.Target)
	}
	return m, nil
}

// handleModalKey routes keys to the settings modal and starts a connect
// when it is submitted.
func (m model) handleModalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	target, submitted, cmd := m.modal.Update(msg)
	if !submitted || m.ctrl == nil {
		return m, cmd
	}
	m.connecting = true
	m.notice = ""
	return m, tea.Batch(cmd, connectCmd(m.ctrl, target), m.spinner.Tick)
}

// handleEvent adds an event to the log. Latency and status events only
// refresh the header, so they are not logged.
func (m *model) handleEvent(event events.Event) {
	switch e := event.(type) {
	case *events.LatencyEvent, *events.BackendStatusEvent:
		return
	case *events.CommandEvent:
		if e.Outcome != throttle.Sent.String() && e.Outcome != throttle.Deferred.String() {
			return
		}
	case *events.DetectionsEvent:
		if e.Count == 0 {
			return
		}
	}

	text := events.Format(event)
	if text == "" {
		return
	}
	m.appendLine(eventLine{
		Time:  event.Timestamp(),
		Text:  text,
		Style: StyleForEvent(event),
	})
}
