package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/dobi/internal/aggregator"
	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/dashboard"
	"github.com/npratt/dobi/internal/events"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// StyleForEvent returns the appropriate style for an event type.
func StyleForEvent(event events.Event) lipgloss.Style {
	if event == nil {
		return styles.Muted
	}

	switch event.(type) {
	case *events.ConnectedEvent, *events.DisconnectedEvent:
		return styles.Connection
	case *events.DetectionsEvent:
		return styles.Detection
	case *events.CommandEvent:
		return styles.Command
	case *events.ConnectFailedEvent, *events.CommandErrorEvent, *events.ErrorEvent:
		return styles.Error
	default:
		return styles.Muted
	}
}

// latencyStyle colours a latency by band.
func latencyStyle(l dashboard.Latency) lipgloss.Style {
	switch l.Band() {
	case dashboard.BandGood:
		return styles.LatencyGood
	case dashboard.BandFair:
		return styles.LatencyFair
	case dashboard.BandPoor:
		return styles.LatencyPoor
	default:
		return styles.LatencyUnknown
	}
}

// sparkline draws detection counts, one rune per window point, scaled to
// the largest count in the window.
func sparkline(points []aggregator.Point) string {
	if len(points) == 0 {
		return ""
	}
	peak := 0
	for _, p := range points {
		peak = max(peak, p.DetectionCount)
	}
	var b strings.Builder
	for _, p := range points {
		idx := 0
		if peak > 0 {
			idx = p.DetectionCount * (len(sparkRunes) - 1) / peak
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// formatPercent renders a 0-100 value.
func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// formatDetection renders one detection for the latest-batch panel.
func formatDetection(d backend.Detection) string {
	s := fmt.Sprintf("%-12s %3.0f%%", events.SafeString(d.Label), d.Confidence*100)
	if d.IsPerson() && d.PPEStatus != backend.PPENone {
		s += " " + string(d.PPEStatus)
	}
	return s
}

// detectionStyle marks unprotected persons.
func detectionStyle(d backend.Detection) lipgloss.Style {
	if !d.IsPerson() {
		return styles.Value
	}
	if d.PPEStatus.Compliant() {
		return styles.Safe
	}
	return styles.Unsafe
}
