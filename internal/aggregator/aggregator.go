// Package aggregator turns detection batches into session statistics and a
// bounded rolling window of per-tick points.
//
// Summarize, Window.Append and Step are pure. Aggregator wraps them with a
// lock and a generation so a batch fetched before a disconnect cannot land
// in the next session's state.
package aggregator

import (
	"sync"
	"time"

	"github.com/npratt/dobi/internal/backend"
)

// DefaultWindowSize is the number of points kept in the rolling window.
const DefaultWindowSize = 20

// TimeLabelFormat formats window point labels.
const TimeLabelFormat = "15:04:05"

// Summary is what a single batch says about the scene.
type Summary struct {
	Count         int
	AvgConfidence float64
	PPECompliance float64
	PersonCount   int
	SafeCount     int
	UnsafeCount   int
}

// Summarize partitions a batch into persons, safe persons and unsafe persons.
// The average confidence of an empty batch is 0 and compliance with no
// persons present is 100.
func Summarize(batch []backend.Detection) Summary {
	s := Summary{Count: len(batch), PPECompliance: 100}
	if len(batch) == 0 {
		return s
	}

	var sum float64
	for _, d := range batch {
		sum += d.Confidence
		if !d.IsPerson() {
			continue
		}
		s.PersonCount++
		switch {
		case d.PPEStatus.Compliant():
			s.SafeCount++
		case d.PPEStatus == backend.PPEUnsafe:
			s.UnsafeCount++
		}
	}
	s.AvgConfidence = sum / float64(len(batch))
	if s.PersonCount > 0 {
		s.PPECompliance = float64(s.SafeCount) / float64(s.PersonCount) * 100
	}
	return s
}

// Point is one rolling window entry.
type Point struct {
	TimeLabel      string
	DetectionCount int
	AvgConfidence  float64
}

// Window is a fixed-capacity FIFO of points. The zero value has capacity
// DefaultWindowSize.
type Window struct {
	capacity int
	points   []Point
}

// NewWindow creates an empty window holding at most capacity points.
func NewWindow(capacity int) Window {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return Window{capacity: capacity}
}

// Cap returns the window capacity.
func (w Window) Cap() int {
	if w.capacity < 1 {
		return DefaultWindowSize
	}
	return w.capacity
}

// Len returns the number of points held.
func (w Window) Len() int { return len(w.points) }

// Points returns a copy of the points, oldest first.
func (w Window) Points() []Point {
	return append([]Point(nil), w.points...)
}

// Append returns a window with p added, evicting the oldest point when full.
// The receiver is not modified.
func (w Window) Append(p Point) Window {
	capacity := w.Cap()
	start := 0
	if len(w.points) >= capacity {
		start = len(w.points) - capacity + 1
	}
	next := make([]Point, 0, capacity)
	next = append(next, w.points[start:]...)
	next = append(next, p)
	return Window{capacity: capacity, points: next}
}

// SessionStats holds the running total and the values derived from the
// latest batch.
type SessionStats struct {
	TotalDetections int
	Ticks           int
	AvgConfidence   float64
	PPECompliance   float64
	PersonCount     int
	SafeCount       int
	UnsafeCount     int
}

// Batch is one /detections response.
type Batch struct {
	Detections []backend.Detection
	// Timestamp is the backend capture time in epoch seconds (0 if unknown).
	Timestamp float64
}

// State is everything the aggregator tracks for a session.
type State struct {
	Stats  SessionStats
	Window Window
	Latest Batch
}

// NewState returns an empty state with the given window capacity.
func NewState(windowSize int) State {
	return State{
		Stats:  SessionStats{PPECompliance: 100},
		Window: NewWindow(windowSize),
	}
}

// Step folds one batch into the state.
func Step(prev State, batch Batch, now time.Time) State {
	sum := Summarize(batch.Detections)
	return State{
		Stats: SessionStats{
			TotalDetections: prev.Stats.TotalDetections + sum.Count,
			Ticks:           prev.Stats.Ticks + 1,
			AvgConfidence:   sum.AvgConfidence,
			PPECompliance:   sum.PPECompliance,
			PersonCount:     sum.PersonCount,
			SafeCount:       sum.SafeCount,
			UnsafeCount:     sum.UnsafeCount,
		},
		Window: prev.Window.Append(Point{
			TimeLabel:      now.Format(TimeLabelFormat),
			DetectionCount: sum.Count,
			AvgConfidence:  sum.AvgConfidence,
		}),
		Latest: Batch{
			Detections: append([]backend.Detection(nil), batch.Detections...),
			Timestamp:  batch.Timestamp,
		},
	}
}

// Aggregator owns the session state for one connection generation.
type Aggregator struct {
	mu         sync.RWMutex
	windowSize int
	gen        uint64
	state      State
}

// New creates an Aggregator with an empty state for generation 0.
func New(windowSize int) *Aggregator {
	return &Aggregator{
		windowSize: windowSize,
		state:      NewState(windowSize),
	}
}

// Reset clears everything and accepts batches only for gen from now on.
func (a *Aggregator) Reset(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen = gen
	a.state = NewState(a.windowSize)
}

// Apply folds batch into the state if gen is current and returns the state
// it produced. ok is false, with a zero State, when the batch was stale.
func (a *Aggregator) Apply(gen uint64, batch Batch, now time.Time) (next State, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return State{}, false
	}
	a.state = Step(a.state, batch, now)
	return a.state, true
}

// Snapshot returns the current state. Stats and window always come from
// the same tick.
func (a *Aggregator) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Generation returns the generation batches are accepted for.
func (a *Aggregator) Generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen
}
