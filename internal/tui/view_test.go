package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/npratt/dobi/internal/aggregator"
	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/dashboard"
)

func sized(m model, w, h int) model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return next.(model)
}

func TestView_Loading(t *testing.T) {
	m := newModel(nil, nil, nil, 0)
	assert.Equal(t, "Loading...", m.View())
}

func TestView_TooSmall(t *testing.T) {
	m := sized(newModel(nil, nil, nil, 0), 40, 10)
	assert.Contains(t, m.View(), "Terminal too small (40x10)")
}

func TestView_Disconnected(t *testing.T) {
	ctrl := &fakeController{view: dashboard.View{
		Latency: dashboard.LatencyUnavailable,
		Target:  connection.Target{Endpoint: "localhost:8000", StreamURL: "http://cam/stream", PiIP: "10.40.0.1"},
	}}
	m := sized(newModel(ctrl, nil, nil, 0), 120, 40)

	out := m.View()
	assert.Contains(t, out, "DISCONNECTED")
	assert.Contains(t, out, "latency: N/A")
	assert.Contains(t, out, "localhost:8000")
	assert.Contains(t, out, "pi: 10.40.0.1")
	assert.Contains(t, out, "no detections")
	assert.Contains(t, out, "Waiting for events...")
}

func TestView_ConnectedWithDetections(t *testing.T) {
	ctrl := &fakeController{view: dashboard.View{
		Connection: connection.State{Connected: true, Endpoint: "http://robot:8000", Generation: 1},
		Latency:    12,
		Stats: aggregator.SessionStats{
			TotalDetections: 7,
			AvgConfidence:   0.8,
			PPECompliance:   50,
			PersonCount:     2,
			SafeCount:       1,
			UnsafeCount:     1,
		},
		Window: []aggregator.Point{
			{TimeLabel: "12:00:00", DetectionCount: 0},
			{TimeLabel: "12:00:01", DetectionCount: 4},
		},
		Latest: aggregator.Batch{Detections: []backend.Detection{
			{Label: "PERSON", RawLabel: "person", Confidence: 0.91, PPEStatus: backend.PPEUnsafe},
			{Label: "FIRE", RawLabel: "api", Confidence: 0.66},
		}},
		BackendStatus: dashboard.BackendStatus{Known: true, Running: true, FrameCount: 99, ModelLoaded: true},
		VideoURL:      "http://robot:8000/video_feed",
		Target:        connection.Target{Endpoint: "http://robot:8000"},
	}}
	m := sized(newModel(ctrl, nil, nil, 0), 140, 40)

	out := m.View()
	assert.Contains(t, out, "CONNECTED")
	assert.NotContains(t, out, "DISCONNECTED")
	assert.Contains(t, out, "latency: 12ms")
	assert.Contains(t, out, "video: http://robot:8000/video_feed")
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "2 (1 safe / 1 unsafe)")
	assert.Contains(t, out, "99 frames, model loaded")
	assert.Contains(t, out, "UNSAFE")
	assert.Contains(t, out, "FIRE")
	assert.Contains(t, out, "▁█")
}

func TestView_NoticeReplacesSecondLine(t *testing.T) {
	m := sized(newModel(&fakeController{}, nil, nil, 0), 120, 40)
	next, _ := m.Update(connectResultMsg{err: assert.AnError})
	m = next.(model)

	assert.Contains(t, m.View(), assert.AnError.Error())
}

func TestView_ModalOverlay(t *testing.T) {
	m := sized(newModel(&fakeController{}, nil, nil, 0), 120, 40)
	m, _ = press(m, runes("e"))

	out := m.View()
	assert.Contains(t, out, "Connection settings")
	assert.Contains(t, out, "Stream URL:")
	assert.NotContains(t, out, "Waiting for events...")
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   string
	}{
		{"empty", nil, ""},
		{"all zero", []int{0, 0}, "▁▁"},
		{"scaled", []int{0, 2, 4}, "▁▄█"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var points []aggregator.Point
			for _, c := range tt.counts {
				points = append(points, aggregator.Point{DetectionCount: c})
			}
			assert.Equal(t, tt.want, sparkline(points))
		})
	}
}

func TestFormatDetection(t *testing.T) {
	person := backend.Detection{Label: "PERSON", RawLabel: "person", Confidence: 0.5, PPEStatus: backend.PPESafe}
	got := formatDetection(person)
	assert.True(t, strings.HasPrefix(got, "PERSON"))
	assert.Contains(t, got, " 50%")
	assert.True(t, strings.HasSuffix(got, "SAFE"))

	fire := backend.Detection{Label: "FIRE", RawLabel: "api", Confidence: 0.25}
	assert.NotContains(t, formatDetection(fire), "SAFE")
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "abcd...", truncateText("abcdefghij", 7))
	assert.Equal(t, "ab", truncateText("abcdef", 2))
}
