package aggregator

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/npratt/dobi/internal/backend"
)

func person(status backend.PPEStatus, conf float64) backend.Detection {
	return backend.Detection{Label: "PERSON", RawLabel: "person", Confidence: conf, PPEStatus: status}
}

func hazard(label, raw string, conf float64) backend.Detection {
	return backend.Detection{Label: label, RawLabel: raw, Confidence: conf}
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		batch []backend.Detection
		want  Summary
	}{
		{
			name:  "empty batch",
			batch: nil,
			want:  Summary{PPECompliance: 100},
		},
		{
			name:  "no persons is fully compliant",
			batch: []backend.Detection{hazard("FIRE", "api", 0.8), hazard("SMOKE", "asap", 0.4)},
			want:  Summary{Count: 2, AvgConfidence: 0.6, PPECompliance: 100},
		},
		{
			name: "safe, unsafe and fire",
			batch: []backend.Detection{
				person(backend.PPESafe, 0.9),
				person(backend.PPEUnsafe, 0.6),
				hazard("FIRE", "api", 0.3),
			},
			want: Summary{Count: 3, AvgConfidence: 0.6, PPECompliance: 50, PersonCount: 2, SafeCount: 1, UnsafeCount: 1},
		},
		{
			name: "fully protected counts as safe",
			batch: []backend.Detection{
				person(backend.PPEFullyProtected, 1),
				person(backend.PPESafe, 1),
			},
			want: Summary{Count: 2, AvgConfidence: 1, PPECompliance: 100, PersonCount: 2, SafeCount: 2},
		},
		{
			name: "person without status is neither safe nor unsafe",
			batch: []backend.Detection{
				person(backend.PPENone, 0.5),
				person(backend.PPEUnsafe, 0.5),
			},
			want: Summary{Count: 2, AvgConfidence: 0.5, PPECompliance: 0, PersonCount: 2, UnsafeCount: 1},
		},
		{
			name:  "person label is matched on raw label",
			batch: []backend.Detection{{Label: "WORKER", RawLabel: "person", Confidence: 0.5, PPEStatus: backend.PPESafe}},
			want:  Summary{Count: 1, AvgConfidence: 0.5, PPECompliance: 100, PersonCount: 1, SafeCount: 1},
		},
		{
			name:  "raw label must match exactly",
			batch: []backend.Detection{{Label: "PERSON", RawLabel: "Person", Confidence: 0.5, PPEStatus: backend.PPEUnsafe}},
			want:  Summary{Count: 1, AvgConfidence: 0.5, PPECompliance: 100},
		},
	}

	approx := cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.batch)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("Summarize() mismatch (-want +got):\n%s", diff)
			}
			if math.IsNaN(got.AvgConfidence) || math.IsNaN(got.PPECompliance) {
				t.Errorf("Summarize() produced NaN: %+v", got)
			}
		})
	}
}

func TestWindow_Append(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		next := w.Append(Point{TimeLabel: fmt.Sprint(i), DetectionCount: i})
		if w.Len() != min(i-1, 3) {
			t.Fatalf("Append modified its receiver: len = %d", w.Len())
		}
		w = next
		if w.Len() != min(i, 3) {
			t.Errorf("after %d appends Len() = %d, want %d", i, w.Len(), min(i, 3))
		}
	}

	var labels []string
	for _, p := range w.Points() {
		labels = append(labels, p.TimeLabel)
	}
	if diff := cmp.Diff([]string{"3", "4", "5"}, labels); diff != "" {
		t.Errorf("window order mismatch (-want +got):\n%s", diff)
	}
}

func TestWindow_ZeroValueUsesDefaultCapacity(t *testing.T) {
	var w Window
	if w.Cap() != DefaultWindowSize {
		t.Errorf("Cap() = %d, want %d", w.Cap(), DefaultWindowSize)
	}
	for i := 0; i < DefaultWindowSize+5; i++ {
		w = w.Append(Point{DetectionCount: i})
	}
	if w.Len() != DefaultWindowSize {
		t.Errorf("Len() = %d, want %d", w.Len(), DefaultWindowSize)
	}
}

func TestStep_ScenarioBatch(t *testing.T) {
	s := NewState(DefaultWindowSize)
	s = Step(s, Batch{Detections: []backend.Detection{
		person(backend.PPESafe, 0.9),
		person(backend.PPEUnsafe, 0.8),
		hazard("FIRE", "api", 0.7),
	}}, t0)

	if s.Stats.PersonCount != 2 || s.Stats.SafeCount != 1 {
		t.Errorf("persons = %d safe = %d, want 2 and 1", s.Stats.PersonCount, s.Stats.SafeCount)
	}
	if s.Stats.PPECompliance != 50 {
		t.Errorf("PPECompliance = %v, want 50", s.Stats.PPECompliance)
	}
	if s.Stats.TotalDetections != 3 {
		t.Errorf("TotalDetections = %d, want 3", s.Stats.TotalDetections)
	}
	if s.Window.Len() != 1 || s.Window.Points()[0].TimeLabel != "12:00:00" {
		t.Errorf("window = %+v, want one point labelled 12:00:00", s.Window.Points())
	}
	if len(s.Latest.Detections) != 3 {
		t.Errorf("Latest has %d detections, want 3", len(s.Latest.Detections))
	}
}

func TestStep_EmptyBatchStillAddsPoint(t *testing.T) {
	s := Step(NewState(DefaultWindowSize), Batch{}, t0)

	if s.Stats.AvgConfidence != 0 {
		t.Errorf("AvgConfidence = %v, want 0", s.Stats.AvgConfidence)
	}
	if s.Stats.PPECompliance != 100 {
		t.Errorf("PPECompliance = %v, want 100", s.Stats.PPECompliance)
	}
	if s.Window.Len() != 1 {
		t.Errorf("window Len() = %d, want 1", s.Window.Len())
	}
}

func TestStep_TotalAccumulates(t *testing.T) {
	s := NewState(DefaultWindowSize)
	sizes := []int{2, 0, 5, 1}
	for i, n := range sizes {
		batch := make([]backend.Detection, n)
		s = Step(s, Batch{Detections: batch}, t0.Add(time.Duration(i)*500*time.Millisecond))
	}
	if s.Stats.TotalDetections != 8 {
		t.Errorf("TotalDetections = %d, want 8", s.Stats.TotalDetections)
	}
	if s.Stats.Ticks != 4 {
		t.Errorf("Ticks = %d, want 4", s.Stats.Ticks)
	}
	// derived values reflect the latest batch only
	if s.Window.Points()[3].DetectionCount != 1 {
		t.Errorf("last point count = %d, want 1", s.Window.Points()[3].DetectionCount)
	}
}

func TestAggregator_TwentyOneTicks(t *testing.T) {
	a := New(DefaultWindowSize)
	a.Reset(1)

	for i := 1; i <= 21; i++ {
		batch := make([]backend.Detection, i)
		next, ok := a.Apply(1, Batch{Detections: batch}, t0.Add(time.Duration(i)*time.Second))
		if !ok {
			t.Fatalf("Apply(tick %d) rejected", i)
		}
		if next.Stats.Ticks != i {
			t.Errorf("Apply(tick %d) returned Ticks = %d", i, next.Stats.Ticks)
		}
		if got, want := a.Snapshot().Window.Len(), min(i, DefaultWindowSize); got != want {
			t.Errorf("after tick %d window Len() = %d, want %d", i, got, want)
		}
	}

	points := a.Snapshot().Window.Points()
	if points[0].DetectionCount != 2 {
		t.Errorf("oldest point is tick %d, want tick 2", points[0].DetectionCount)
	}
	if points[19].DetectionCount != 21 {
		t.Errorf("newest point is tick %d, want tick 21", points[19].DetectionCount)
	}
}

func TestAggregator_StaleGenerationDiscarded(t *testing.T) {
	a := New(DefaultWindowSize)
	a.Reset(1)
	a.Apply(1, Batch{Detections: []backend.Detection{person(backend.PPESafe, 1)}}, t0)

	// disconnect: generation moves on and the state is cleared
	a.Reset(2)

	if next, ok := a.Apply(1, Batch{Detections: make([]backend.Detection, 4)}, t0); ok || next.Stats.TotalDetections != 0 {
		t.Errorf("Apply with stale generation = (%+v, %v), want zero state and false", next.Stats, ok)
	}
	want := NewState(DefaultWindowSize)
	got := a.Snapshot()
	if got.Stats != want.Stats || got.Window.Len() != 0 {
		t.Errorf("state after stale Apply = %+v, want empty", got)
	}
}

func TestAggregator_ReconnectCountsOnlyNewSession(t *testing.T) {
	a := New(DefaultWindowSize)
	a.Reset(1)
	a.Apply(1, Batch{Detections: make([]backend.Detection, 5)}, t0)
	a.Apply(1, Batch{Detections: make([]backend.Detection, 5)}, t0)

	a.Reset(2) // disconnected
	a.Reset(3) // connected again
	a.Apply(3, Batch{Detections: make([]backend.Detection, 2)}, t0)

	if got := a.Snapshot().Stats.TotalDetections; got != 2 {
		t.Errorf("TotalDetections = %d, want 2", got)
	}
	if got := a.Snapshot().Window.Len(); got != 1 {
		t.Errorf("window Len() = %d, want 1", got)
	}
}

func TestAggregator_ApplyReturnsItsOwnTick(t *testing.T) {
	a := New(DefaultWindowSize)
	a.Reset(1)
	next, ok := a.Apply(1, Batch{Detections: []backend.Detection{person(backend.PPESafe, 0.9), person(backend.PPEUnsafe, 0.7)}}, t0)
	if !ok {
		t.Fatal("Apply rejected current generation")
	}

	// a disconnect after Apply must not change what the caller publishes
	a.Reset(2)

	if next.Stats.TotalDetections != 2 || next.Stats.PersonCount != 2 {
		t.Errorf("returned stats = %+v, want the applied tick", next.Stats)
	}
	if math.Abs(next.Stats.PPECompliance-50) > 1e-9 {
		t.Errorf("PPECompliance = %v, want 50", next.Stats.PPECompliance)
	}
	if next.Window.Len() != 1 {
		t.Errorf("returned window Len() = %d, want 1", next.Window.Len())
	}
	if got := a.Snapshot().Stats.TotalDetections; got != 0 {
		t.Errorf("aggregator after Reset has TotalDetections = %d, want 0", got)
	}
}
