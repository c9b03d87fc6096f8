package backend

import (
	"fmt"
	"math"
	"strings"
)

// Direction is a motor command as it appears in the /move/{direction} path.
type Direction string

// Motor directions.
const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
	Stop     Direction = "stop"
)

// Directions lists every valid direction.
var Directions = []Direction{Forward, Backward, Left, Right, Stop}

// ParseDirection converts a string to a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Directions {
		if d == valid {
			return d, nil
		}
	}
	return "", fmt.Errorf("invalid direction: %q", s)
}

// PPEStatus is the protective-equipment classification of a detected person.
type PPEStatus string

// PPE statuses. PPENone means the field was absent (not a person, or not classified).
const (
	PPENone           PPEStatus = ""
	PPESafe           PPEStatus = "SAFE"
	PPEUnsafe         PPEStatus = "UNSAFE"
	PPEFullyProtected PPEStatus = "FULLY_PROTECTED"
)

// Compliant reports whether the status counts as adequately equipped.
func (s PPEStatus) Compliant() bool {
	return s == PPESafe || s == PPEFullyProtected
}

// PersonLabel is the canonical raw label for people.
const PersonLabel = "person"

// Detection is one object reported by the backend.
type Detection struct {
	Label      string    `json:"name"`
	RawLabel   string    `json:"raw_name"`
	Confidence float64   `json:"conf"`
	PPEStatus  PPEStatus `json:"ppe_status,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Box        []int     `json:"box,omitempty"`
}

// IsPerson reports whether the detection is a person.
func (d Detection) IsPerson() bool {
	return d.RawLabel == PersonLabel
}

// DetectionsResponse is the body of GET /detections.
type DetectionsResponse struct {
	Timestamp  float64     `json:"timestamp"`
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
	Connected  bool        `json:"connected"`
}

// normalize makes a decoded response safe to aggregate: confidences are
// clamped into [0,1], NaN becomes 0, and unknown PPE values become PPENone.
func (r *DetectionsResponse) normalize() {
	if r.Detections == nil {
		r.Detections = []Detection{}
	}
	for i := range r.Detections {
		d := &r.Detections[i]
		switch {
		case math.IsNaN(d.Confidence), d.Confidence < 0:
			d.Confidence = 0
		case d.Confidence > 1:
			d.Confidence = 1
		}
		d.PPEStatus = PPEStatus(strings.ToUpper(string(d.PPEStatus)))
		switch d.PPEStatus {
		case PPESafe, PPEUnsafe, PPEFullyProtected:
		default:
			d.PPEStatus = PPENone
		}
		if d.Label == "" {
			d.Label = strings.ToUpper(d.RawLabel)
		}
	}
	r.Count = len(r.Detections)
}

// ConnectRequest is the body of POST /connect.
type ConnectRequest struct {
	StreamURL string `json:"stream_url"`
	PiIP      string `json:"pi_ip"`
}

// Connect response statuses.
const (
	StatusConnected = "connected"
	StatusFailed    = "error"
)

// ConnectResponse is the body returned by POST /connect.
type ConnectResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Status is the body of GET /status.
type Status struct {
	Running        bool   `json:"running"`
	StreamURL      string `json:"stream_url"`
	PiIP           string `json:"pi_ip"`
	FrameCount     int64  `json:"frame_count"`
	HasFrame       bool   `json:"has_frame"`
	DetectionCount int    `json:"detection_count"`
	LastError      string `json:"last_error,omitempty"`
	ModelLoaded    bool   `json:"model_loaded"`
}
