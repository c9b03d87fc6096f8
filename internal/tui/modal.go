package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/dobi/internal/connection"
)

// Settings modal field order.
const (
	fieldStream = iota
	fieldPi
	fieldBackend
	fieldCount
)

var fieldLabels = [fieldCount]string{
	fieldStream:  "Stream URL",
	fieldPi:      "Pi IP",
	fieldBackend: "Backend",
}

// SettingsModal edits the connection target in an overlay.
type SettingsModal struct {
	inputs [fieldCount]textinput.Model
	focus  int
	width  int
	open   bool
}

// NewSettingsModal creates a closed modal.
func NewSettingsModal() *SettingsModal {
	m := &SettingsModal{}
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 256
		in.Placeholder = fieldLabels[i]
		m.inputs[i] = in
	}
	return m
}

// Open fills the fields from target and focuses the first one.
func (m *SettingsModal) Open(target connection.Target) tea.Cmd {
	m.open = true
	m.inputs[fieldStream].SetValue(target.StreamURL)
	m.inputs[fieldPi].SetValue(target.PiIP)
	m.inputs[fieldBackend].SetValue(target.Endpoint)
	return m.focusField(0)
}

// Close closes the modal without applying changes.
func (m *SettingsModal) Close() {
	m.open = false
	for i := range m.inputs {
		m.inputs[i].Blur()
	}
}

// IsOpen returns true if the modal is open.
func (m *SettingsModal) IsOpen() bool {
	return m.open
}

// SetWidth updates the modal width.
func (m *SettingsModal) SetWidth(width int) {
	m.width = width
	for i := range m.inputs {
		m.inputs[i].Width = max(10, width/2)
	}
}

// Target returns the target described by the fields.
func (m *SettingsModal) Target() connection.Target {
	return connection.Target{
		StreamURL: strings.TrimSpace(m.inputs[fieldStream].Value()),
		PiIP:      strings.TrimSpace(m.inputs[fieldPi].Value()),
		Endpoint:  strings.TrimSpace(m.inputs[fieldBackend].Value()),
	}
}

// Update handles a key. It reports the target and true when the user
// submits with enter.
func (m *SettingsModal) Update(msg tea.KeyMsg) (connection.Target, bool, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.Close()
		return connection.Target{}, false, nil
	case "enter":
		target := m.Target()
		m.Close()
		return target, true, nil
	case "tab", "down":
		return connection.Target{}, false, m.focusField((m.focus + 1) % fieldCount)
	case "shift+tab", "up":
		return connection.Target{}, false, m.focusField((m.focus + fieldCount - 1) % fieldCount)
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return connection.Target{}, false, cmd
}

func (m *SettingsModal) focusField(i int) tea.Cmd {
	m.focus = i
	var cmd tea.Cmd
	for j := range m.inputs {
		if j == i {
			cmd = m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
	return cmd
}

// View renders the modal.
func (m *SettingsModal) View() string {
	if !m.open {
		return ""
	}
	var b strings.Builder
	b.WriteString(styles.ModalTitle.Render("Connection settings"))
	b.WriteString("\n\n")
	for i := range m.inputs {
		label := styles.ModalLabel.Render(fieldLabels[i] + ":")
		if i == m.focus {
			label = styles.ModalLabelFocused.Render(fieldLabels[i] + ":")
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, label, " ", m.inputs[i].View()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styles.Footer.Render("enter: save & connect  tab: next  esc: cancel"))
	return styles.Modal.Render(b.String())
}
