package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/dashboard"
	"github.com/npratt/dobi/internal/events"
)

// eventLine represents a formatted event for display.
type eventLine struct {
	Time  time.Time
	Text  string
	Style lipgloss.Style
}

// keyMap holds the dashboard key bindings.
type keyMap struct {
	Forward    key.Binding
	Backward   key.Binding
	Left       key.Binding
	Right      key.Binding
	Stop       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Edit       key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Forward:    key.NewBinding(key.WithKeys("w", "up"), key.WithHelp("w/↑", "forward")),
		Backward:   key.NewBinding(key.WithKeys("s", "down"), key.WithHelp("s/↓", "back")),
		Left:       key.NewBinding(key.WithKeys("a", "left"), key.WithHelp("a/←", "left")),
		Right:      key.NewBinding(key.WithKeys("d", "right"), key.WithHelp("d/→", "right")),
		Stop:       key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "stop")),
		Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Disconnect: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "disconnect")),
		Edit:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "settings")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Backward, k.Left, k.Right, k.Stop, k.Connect, k.Disconnect, k.Edit, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// direction returns the motor direction bound to msg, if any.
func (k keyMap) direction(msg tea.KeyMsg) (backend.Direction, bool) {
	switch {
	case key.Matches(msg, k.Forward):
		return backend.Forward, true
	case key.Matches(msg, k.Backward):
		return backend.Backward, true
	case key.Matches(msg, k.Left):
		return backend.Left, true
	case key.Matches(msg, k.Right):
		return backend.Right, true
	case key.Matches(msg, k.Stop):
		return backend.Stop, true
	}
	return "", false
}

// model is the bubbletea model for the TUI.
type model struct {
	ctrl      Controller
	eventChan <-chan events.Event
	onQuit    func()

	// Latest dashboard state, refreshed on every tick.
	view dashboard.View

	// Event log
	eventLines []eventLine
	maxLines   int

	// UI state
	width       int
	height      int
	connecting  bool
	lastCommand string
	notice      string
	spinner     spinner.Model
	keys        keyMap
	help        help.Model
	modal       *SettingsModal
}

// eventMsg wraps an event for the bubbletea message system.
type eventMsg struct{ events.Event }

// newModel creates a new model with the given configuration.
func newModel(ctrl Controller, eventChan <-chan events.Event, onQuit func(), maxLines int) model {
	if maxLines <= 0 {
		maxLines = DefaultLogEntries
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := model{
		ctrl:      ctrl,
		eventChan: eventChan,
		onQuit:    onQuit,
		maxLines:  maxLines,
		spinner:   sp,
		keys:      defaultKeyMap(),
		help:      help.New(),
		modal:     NewSettingsModal(),
	}
	if ctrl != nil {
		m.view = ctrl.Snapshot()
	}
	return m
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventChan), doTick())
}

// appendLine adds a line to the log, dropping the oldest past maxLines.
func (m *model) appendLine(el eventLine) {
	m.eventLines = append(m.eventLines, el)
	if over := len(m.eventLines) - m.maxLines; over > 0 {
		m.eventLines = append([]eventLine(nil), m.eventLines[over:]...)
	}
}
