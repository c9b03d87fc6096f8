package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	maxMessageLength  = 120
	truncateIndicator = "..."
)

// Format converts an event to a one-line description for the log pane and
// the headless watcher. Returns empty string for nil or unknown events.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *ConnectedEvent:
		return fmt.Sprintf("connected to %s (session %s)", SafeString(e.Endpoint), shortID(e.SessionID))
	case *DisconnectedEvent:
		return fmt.Sprintf("disconnected from %s after %s", SafeString(e.Endpoint), e.Duration.Round(time.Second))
	case *ConnectFailedEvent:
		return fmt.Sprintf("[x] connect to %s failed: %s", SafeString(e.Endpoint), Truncate(e.Message, maxMessageLength))
	case *DetectionsEvent:
		return formatDetections(e)
	case *LatencyEvent:
		if e.LatencyMs < 0 {
			return "latency: N/A"
		}
		return fmt.Sprintf("latency: %dms", e.LatencyMs)
	case *BackendStatusEvent:
		return formatBackendStatus(e)
	case *CommandEvent:
		return fmt.Sprintf("motor %s: %s", SafeString(e.Direction), e.Outcome)
	case *CommandErrorEvent:
		return fmt.Sprintf("[!] motor %s failed: %s", SafeString(e.Direction), Truncate(e.Message, maxMessageLength))
	case *ErrorEvent:
		symbol := "!"
		if e.Severity == SeverityError {
			symbol = "x"
		}
		return fmt.Sprintf("[%s] %s", symbol, Truncate(e.Message, maxMessageLength))
	default:
		return ""
	}
}

// FormatWithTimestamp formats an event with a [15:04:05] prefix.
func FormatWithTimestamp(event Event) string {
	if event == nil {
		return ""
	}
	ts := event.Timestamp().Format("15:04:05")
	detail := Format(event)
	if detail == "" {
		return fmt.Sprintf("[%s] %s", ts, event.Type())
	}
	return fmt.Sprintf("[%s] %s", ts, detail)
}

func formatDetections(e *DetectionsEvent) string {
	if e.Count == 0 {
		return "detections: none"
	}
	labels := make([]string, 0, len(e.Detections))
	for _, d := range e.Detections {
		label := SafeString(d.Label)
		if d.PPEStatus != "" {
			label += "/" + SafeString(d.PPEStatus)
		}
		labels = append(labels, fmt.Sprintf("%s %.0f%%", label, d.Confidence*100))
	}
	return fmt.Sprintf("detections: %d [%s] compliance %.0f%%",
		e.Count, Truncate(strings.Join(labels, ", "), maxMessageLength), e.PPECompliance)
}

func formatBackendStatus(e *BackendStatusEvent) string {
	state := "idle"
	if e.Running {
		state = "running"
	}
	s := fmt.Sprintf("backend %s, %d frames", state, e.FrameCount)
	if !e.ModelLoaded {
		s += ", model not loaded"
	}
	if e.LastError != "" {
		s += ", error: " + Truncate(e.LastError, 60)
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Truncate shortens s to maxLen bytes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	s = SafeString(s)
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncateIndicator) {
		return truncateIndicator
	}
	return s[:maxLen-len(truncateIndicator)] + truncateIndicator
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SafeString makes backend-supplied text safe to print in a terminal:
// escape sequences and control characters are removed and whitespace is
// collapsed onto one line.
func SafeString(s string) string {
	s = StripANSI(s)

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			sb.WriteRune(' ')
		case !unicode.IsControl(r):
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
