package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	minWidth  = 60
	minHeight = 20
	// maxLatest caps the latest-batch panel.
	maxLatest = 6
)

// View implements tea.Model. This renders the full TUI display.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.width < minWidth || m.height < minHeight {
		return m.renderTooSmall()
	}

	if m.modal.IsOpen() {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.modal.View())
	}

	w := safeWidth(m.width - 4) // Account for container borders

	top := []string{
		m.renderHeader(w),
		m.renderDivider(w),
		m.renderStats(w),
		m.renderDivider(w),
	}
	bottom := []string{
		m.renderDivider(w),
		m.renderFooter(w),
	}

	used := lipgloss.Height(strings.Join(top, "\n")) + lipgloss.Height(strings.Join(bottom, "\n")) + 2
	logLines := max(1, m.height-used)

	sections := append(top, m.renderLog(w, logLines))
	sections = append(sections, bottom...)

	rendered := styles.Container.
		Width(safeWidth(m.width - 2)).
		Render(strings.Join(sections, "\n"))

	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, rendered)
}

// renderHeader renders the connection state, endpoint, latency and video URL.
func (m model) renderHeader(w int) string {
	conn := m.view.Connection

	var state string
	switch {
	case m.connecting:
		state = m.spinner.View() + styles.Connecting.Render("CONNECTING")
	case conn.Connected:
		state = styles.Connected.Render("● CONNECTED")
	default:
		state = styles.Disconnected.Render("○ DISCONNECTED")
	}

	left := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Title.Render("dobi"), "  ", state, "  ", styles.Endpoint.Render(m.view.Target.Endpoint))
	latency := latencyStyle(m.view.Latency).Render("latency: " + m.view.Latency.String())
	line1 := spread(left, latency, w)

	var line2 string
	switch {
	case m.notice != "":
		line2 = styles.Error.Render(truncateText(m.notice, w))
	case conn.Connected:
		line2 = styles.Label.Render(truncateText("video: "+m.view.VideoURL, w))
	default:
		line2 = styles.Label.Render(truncateText("stream: "+m.view.Target.StreamURL+"  pi: "+m.view.Target.PiIP, w))
	}

	return line1 + "\n" + line2
}

// renderStats renders session statistics, the rolling window and the latest batch.
func (m model) renderStats(w int) string {
	s := m.view.Stats
	field := func(label, value string) string {
		return styles.Label.Render(label+": ") + styles.Value.Render(value)
	}

	compliance := formatPercent(s.PPECompliance)
	complianceStyle := styles.Safe
	if s.UnsafeCount > 0 {
		complianceStyle = styles.Unsafe
	}

	row1 := strings.Join([]string{
		field("detections", fmt.Sprintf("%d", s.TotalDetections)),
		field("avg conf", formatPercent(s.AvgConfidence*100)),
		styles.Label.Render("PPE: ") + complianceStyle.Render(compliance),
		field("persons", fmt.Sprintf("%d (%d safe / %d unsafe)", s.PersonCount, s.SafeCount, s.UnsafeCount)),
	}, "  ")

	bs := m.view.BackendStatus
	backendText := "backend: -"
	if bs.Known {
		loaded := "no model"
		if bs.ModelLoaded {
			loaded = "model loaded"
		}
		backendText = fmt.Sprintf("backend: %d frames, %s", bs.FrameCount, loaded)
		if bs.LastError != "" {
			backendText += ", error: " + bs.LastError
		}
	}
	motor := "motor: " + string(m.view.Throttle.LastSent)
	if m.view.Throttle.LastSent == "" {
		motor = "motor: -"
	}
	if m.view.Throttle.CooldownActive {
		motor += " (cooldown)"
	}
	if m.lastCommand != "" {
		motor += "  last key " + m.lastCommand
	}
	row2 := spread(styles.Label.Render(truncateText(backendText, w/2)), styles.Label.Render(motor), w)

	activity := styles.Label.Render("activity ") + styles.Spark.Render(sparkline(m.view.Window))

	lines := []string{truncateStyled(row1, w), row2, activity}
	if len(m.view.Latest.Detections) == 0 {
		lines = append(lines, styles.Muted.Render("no detections"))
	}
	for i, d := range m.view.Latest.Detections {
		if i == maxLatest {
			lines = append(lines, styles.Muted.Render(fmt.Sprintf("… %d more", len(m.view.Latest.Detections)-maxLatest)))
			break
		}
		lines = append(lines, detectionStyle(d).Render(formatDetection(d)))
	}
	return strings.Join(lines, "\n")
}

// renderLog renders the newest lines of the event log that fit.
func (m model) renderLog(w, visible int) string {
	if len(m.eventLines) == 0 {
		padding := strings.Repeat("\n", visible/2)
		return padding + lipgloss.PlaceHorizontal(w, lipgloss.Center, "Waiting for events...")
	}

	start := max(0, len(m.eventLines)-visible)
	var lines []string
	for _, el := range m.eventLines[start:] {
		lines = append(lines, m.renderEventLine(el, w))
	}
	for len(lines) < visible {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m model) renderEventLine(el eventLine, maxWidth int) string {
	prefix := el.Time.Format("15:04:05") + " "
	textWidth := max(10, maxWidth-len(prefix))
	return styles.Muted.Render(prefix) + el.Style.Render(truncateText(el.Text, textWidth))
}

func (m model) renderDivider(w int) string {
	return styles.Divider.Render(strings.Repeat("─", w))
}

func (m model) renderFooter(w int) string {
	m.help.Width = w
	return m.help.View(m.keys)
}

func (m model) renderTooSmall() string {
	return fmt.Sprintf("Terminal too small (%dx%d). Need %dx%d minimum.",
		m.width, m.height, minWidth, minHeight)
}

// spread places left and right at the edges of a line of width w.
func spread(left, right string, w int) string {
	gap := max(1, w-lipgloss.Width(left)-lipgloss.Width(right))
	return left + strings.Repeat(" ", gap) + right
}

// safeWidth returns a width that is at least 1 to prevent negative values.
func safeWidth(w int) int {
	if w < 1 {
		return 1
	}
	return w
}

func truncateText(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-3]) + "..."
}

// truncateStyled limits an already styled line to w cells.
func truncateStyled(s string, w int) string {
	if lipgloss.Width(s) <= w {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(w).Render(s)
}
