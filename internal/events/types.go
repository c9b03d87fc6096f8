// Package events defines the dashboard's event taxonomy and the pub/sub
// router that carries events from the live-state core to the TUI, the
// JSONL log and the headless watcher.
package events

import "time"

// EventType identifies the category and nature of an event.
type EventType string

// Event types.
const (
	// Connection lifecycle
	EventConnected     EventType = "connection.connected"
	EventDisconnected  EventType = "connection.disconnected"
	EventConnectFailed EventType = "connection.failed"

	// Polled state
	EventDetections    EventType = "detections.batch"
	EventLatency       EventType = "health.latency"
	EventBackendStatus EventType = "backend.status"

	// Motor control
	EventCommand      EventType = "motor.command"
	EventCommandError EventType = "motor.error"

	EventError EventType = "error"
)

// Source constants identify the origin of events.
const (
	SourceConnection = "connection"
	SourcePoller     = "poller"
	SourceThrottle   = "throttle"
	SourceDashboard  = "dobi"
)

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType { return e.EventType }

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// Source returns the origin of the event.
func (e BaseEvent) Source() string { return e.Src }

// NewEvent creates a BaseEvent stamped with the current time.
func NewEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       source,
	}
}

// ConnectedEvent is emitted after a successful handshake.
type ConnectedEvent struct {
	BaseEvent
	Endpoint   string `json:"endpoint"`
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// DisconnectedEvent is emitted when the dashboard detaches.
type DisconnectedEvent struct {
	BaseEvent
	Endpoint  string        `json:"endpoint"`
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"duration"`
}

// ConnectFailedEvent is emitted when a handshake fails. Message is the
// backend's explanation when it gave one.
type ConnectFailedEvent struct {
	BaseEvent
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}

// DetectionSummary is one detection as carried in events.
type DetectionSummary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	PPEStatus  string  `json:"ppe_status,omitempty"`
}

// DetectionsEvent is emitted for every applied detections batch.
type DetectionsEvent struct {
	BaseEvent
	Count           int                `json:"count"`
	TotalDetections int                `json:"total_detections"`
	AvgConfidence   float64            `json:"avg_confidence"`
	PPECompliance   float64            `json:"ppe_compliance"`
	PersonCount     int                `json:"person_count"`
	Detections      []DetectionSummary `json:"detections,omitempty"`
}

// LatencyEvent is emitted after each health probe. LatencyMs is -1 when
// the backend did not answer in time.
type LatencyEvent struct {
	BaseEvent
	LatencyMs int64 `json:"latency_ms"`
}

// BackendStatusEvent mirrors GET /status.
type BackendStatusEvent struct {
	BaseEvent
	Running     bool   `json:"running"`
	FrameCount  int64  `json:"frame_count"`
	HasFrame    bool   `json:"has_frame"`
	ModelLoaded bool   `json:"model_loaded"`
	LastError   string `json:"last_error,omitempty"`
}

// CommandEvent is emitted for every motor intent with what became of it.
type CommandEvent struct {
	BaseEvent
	Direction string `json:"direction"`
	Outcome   string `json:"outcome"`
}

// CommandErrorEvent is emitted when delivering a motor command fails.
type CommandErrorEvent struct {
	BaseEvent
	Direction string `json:"direction"`
	Message   string `json:"message"`
}

// Severity constants for error events.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ErrorEvent is emitted for any other error worth showing.
type ErrorEvent struct {
	BaseEvent
	Message  string `json:"message"`
	Severity string `json:"severity"`
}
