package events

import (
	"strings"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "nil",
			event: nil,
			want:  "",
		},
		{
			name: "connected",
			event: &ConnectedEvent{
				BaseEvent: NewEvent(EventConnected, SourceConnection),
				Endpoint:  "http://192.168.1.50:8000",
				SessionID: "0123456789abcdef",
			},
			want: "connected to http://192.168.1.50:8000 (session 01234567)",
		},
		{
			name: "disconnected",
			event: &DisconnectedEvent{
				BaseEvent: NewEvent(EventDisconnected, SourceConnection),
				Endpoint:  "http://robot:8000",
				Duration:  90*time.Second + 400*time.Millisecond,
			},
			want: "disconnected from http://robot:8000 after 1m30s",
		},
		{
			name: "connect failed",
			event: &ConnectFailedEvent{
				BaseEvent: NewEvent(EventConnectFailed, SourceConnection),
				Endpoint:  "http://robot:8000",
				Message:   "Failed to open video stream",
			},
			want: "[x] connect to http://robot:8000 failed: Failed to open video stream",
		},
		{
			name:  "latency",
			event: &LatencyEvent{BaseEvent: NewEvent(EventLatency, SourcePoller), LatencyMs: 0},
			want:  "latency: 0ms",
		},
		{
			name:  "latency unavailable",
			event: &LatencyEvent{BaseEvent: NewEvent(EventLatency, SourcePoller), LatencyMs: -1},
			want:  "latency: N/A",
		},
		{
			name:  "empty detections",
			event: &DetectionsEvent{BaseEvent: NewEvent(EventDetections, SourcePoller), PPECompliance: 100},
			want:  "detections: none",
		},
		{
			name: "detections",
			event: &DetectionsEvent{
				BaseEvent:     NewEvent(EventDetections, SourcePoller),
				Count:         2,
				PPECompliance: 0,
				Detections: []DetectionSummary{
					{Label: "PERSON", Confidence: 0.91, PPEStatus: "UNSAFE"},
					{Label: "FIRE", Confidence: 0.5},
				},
			},
			want: "detections: 2 [PERSON/UNSAFE 91%, FIRE 50%] compliance 0%",
		},
		{
			name: "backend status",
			event: &BackendStatusEvent{
				BaseEvent:  NewEvent(EventBackendStatus, SourcePoller),
				Running:    true,
				FrameCount: 1200,
			},
			want: "backend running, 1200 frames, model not loaded",
		},
		{
			name: "command",
			event: &CommandEvent{
				BaseEvent: NewEvent(EventCommand, SourceThrottle),
				Direction: "left",
				Outcome:   "dropped_cooldown",
			},
			want: "motor left: dropped_cooldown",
		},
		{
			name: "command error",
			event: &CommandErrorEvent{
				BaseEvent: NewEvent(EventCommandError, SourceThrottle),
				Direction: "stop",
				Message:   "Pi connection timeout",
			},
			want: "[!] motor stop failed: Pi connection timeout",
		},
		{
			name:  "error",
			event: &ErrorEvent{BaseEvent: NewEvent(EventError, SourceDashboard), Message: "boom", Severity: SeverityError},
			want:  "[x] boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.event); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatWithTimestamp(t *testing.T) {
	ev := &LatencyEvent{
		BaseEvent: BaseEvent{EventType: EventLatency, Time: time.Date(2024, 1, 1, 9, 5, 7, 0, time.Local)},
		LatencyMs: 12,
	}
	if got, want := FormatWithTimestamp(ev), "[09:05:07] latency: 12ms"; got != want {
		t.Errorf("FormatWithTimestamp() = %q, want %q", got, want)
	}
}

func TestSafeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m text", "red text"},
		{"line one\nline two\r\n", "line one line two"},
		{"bell\x07 and  spaces", "bell and spaces"},
	}
	for _, tt := range tests {
		if got := SafeString(tt.in); got != tt.want {
			t.Errorf("SafeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	got := Truncate(strings.Repeat("a", 20), 10)
	if got != "aaaaaaa..." {
		t.Errorf("Truncate(long) = %q, want %q", got, "aaaaaaa...")
	}
	if got := Truncate("abcdef", 2); got != "..." {
		t.Errorf("Truncate(tiny) = %q, want %q", got, "...")
	}
}
