package dashboard

import (
	"fmt"
	"time"
)

// Latency is a health probe round trip in milliseconds.
type Latency int64

// LatencyUnavailable marks a failed or timed-out probe. It is distinct from
// every measurable value, including 0.
const LatencyUnavailable Latency = -1

// LatencyFromDuration rounds d to whole milliseconds.
func LatencyFromDuration(d time.Duration) Latency {
	if d < 0 {
		return 0
	}
	return Latency(d.Round(time.Millisecond) / time.Millisecond)
}

// Available reports whether l is a measurement rather than the sentinel.
func (l Latency) Available() bool {
	return l >= 0
}

func (l Latency) String() string {
	if !l.Available() {
		return "N/A"
	}
	return fmt.Sprintf("%dms", int64(l))
}

// LatencyBand buckets a latency for display.
type LatencyBand int

// Latency bands.
const (
	BandUnknown LatencyBand = iota
	BandGood
	BandFair
	BandPoor
)

// Band returns good below 50ms, fair below 150ms, poor otherwise.
func (l Latency) Band() LatencyBand {
	switch {
	case !l.Available():
		return BandUnknown
	case l < 50:
		return BandGood
	case l < 150:
		return BandFair
	default:
		return BandPoor
	}
}
