package tui

import "github.com/charmbracelet/lipgloss"

// styles contains all lipgloss styles used by the TUI.
var styles = struct {
	// Layout styles
	Container lipgloss.Style
	Divider   lipgloss.Style

	// Header styles
	Title        lipgloss.Style
	Connected    lipgloss.Style
	Disconnected lipgloss.Style
	Connecting   lipgloss.Style
	Endpoint     lipgloss.Style
	Spinner      lipgloss.Style

	// Latency bands
	LatencyGood    lipgloss.Style
	LatencyFair    lipgloss.Style
	LatencyPoor    lipgloss.Style
	LatencyUnknown lipgloss.Style

	// Panels
	Label  lipgloss.Style
	Value  lipgloss.Style
	Safe   lipgloss.Style
	Unsafe lipgloss.Style
	Spark  lipgloss.Style

	// Footer style
	Footer lipgloss.Style

	// Event styles
	Connection lipgloss.Style
	Detection  lipgloss.Style
	Command    lipgloss.Style
	Error      lipgloss.Style
	Muted      lipgloss.Style

	// Modal
	Modal             lipgloss.Style
	ModalTitle        lipgloss.Style
	ModalLabel        lipgloss.Style
	ModalLabelFocused lipgloss.Style
}{
	Container: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")),

	Divider: lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")),

	Connected: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("82")),

	Disconnected: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Connecting: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	Endpoint: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Spinner: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	LatencyGood: lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")),

	LatencyFair: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	LatencyPoor: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	LatencyUnknown: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Label: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Value: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")),

	Safe: lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")),

	Unsafe: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Spark: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Footer: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Connection: lipgloss.NewStyle().
		Foreground(lipgloss.Color("177")),

	Detection: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	Command: lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Modal: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 2),

	ModalTitle: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")),

	ModalLabel: lipgloss.NewStyle().
		Width(12).
		Foreground(lipgloss.Color("245")),

	ModalLabelFocused: lipgloss.NewStyle().
		Width(12).
		Bold(true).
		Foreground(lipgloss.Color("39")),
}
