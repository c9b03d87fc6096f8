package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/backendsim"
	"github.com/npratt/dobi/internal/config"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/settings"
	"github.com/npratt/dobi/internal/testutil"
)

func TestSampleDetections(t *testing.T) {
	mock := backend.NewMockClient()
	mock.DetectionsResponse = testutil.Batch(0, testutil.SafePerson(0.9), testutil.Fire(0.5))

	state, err := sampleDetections(context.Background(), mock, 3, time.Millisecond, 20)
	require.NoError(t, err)

	assert.Equal(t, 3, state.Stats.Ticks)
	assert.Equal(t, 6, state.Stats.TotalDetections)
	assert.InDelta(t, 0.7, state.Stats.AvgConfidence, 1e-9)
	assert.Equal(t, 100.0, state.Stats.PPECompliance)
	assert.Equal(t, 3, state.Window.Len())
	assert.Len(t, state.Latest.Detections, 2)

	_, calls, _ := mock.Counts()
	assert.Equal(t, 3, calls)
}

func TestSampleDetections_Error(t *testing.T) {
	mock := backend.NewMockClient()
	mock.DetectionsError = assert.AnError

	_, err := sampleDetections(context.Background(), mock, 2, time.Millisecond, 20)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSampleDetections_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := sampleDetections(ctx, backend.NewMockClient(), 2, time.Hour, 20)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, state.Stats.Ticks, "first batch is fetched before waiting")
}

func TestPrintDetections(t *testing.T) {
	mock := backend.NewMockClient()
	mock.DetectionsResponse = testutil.Batch(0, testutil.UnsafePerson(0.8))
	state, err := sampleDetections(context.Background(), mock, 2, time.Millisecond, 20)
	require.NoError(t, err)

	var buf bytes.Buffer
	printDetections(&buf, state, 2)

	out := buf.String()
	assert.Contains(t, out, "PERSON")
	assert.Contains(t, out, " 80%  UNSAFE")
	assert.Contains(t, out, "2 batches, 2 detections, avg confidence 80.0%, PPE compliance 0.0%")
}

func TestPrintDetections_Empty(t *testing.T) {
	state, err := sampleDetections(context.Background(), backend.NewMockClient(), 1, time.Millisecond, 20)
	require.NoError(t, err)

	var buf bytes.Buffer
	printDetections(&buf, state, 1)
	assert.Equal(t, "No detections\n", buf.String())
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &backend.Status{Running: true, FrameCount: 12, HasFrame: true, ModelLoaded: true, LastError: "camera hiccup"})

	out := buf.String()
	assert.Contains(t, out, "Running: true")
	assert.Contains(t, out, "Frames: 12 (has frame: true)")
	assert.Contains(t, out, "Last error: camera hiccup")
}

func TestPrintSettings(t *testing.T) {
	var buf bytes.Buffer
	printSettings(&buf, settings.Default())

	assert.Contains(t, buf.String(), "backendUrl: "+settings.DefaultBackendURL)
}

func TestPrintConfig(t *testing.T) {
	cfg := config.Default()
	target := connection.Target{Endpoint: "http://robot:8000", StreamURL: "http://cam/stream", PiIP: "10.40.0.2"}

	var buf bytes.Buffer
	printConfig(&buf, cfg, target)
	assert.Contains(t, buf.String(), "Files: none (defaults)")
	assert.Contains(t, buf.String(), "Backend: http://robot:8000")
	assert.Contains(t, buf.String(), "Control: cooldown 100ms")
	assert.NotContains(t, buf.String(), "Metrics:")

	cfg.LoadedFrom = []string{"/etc/a.yaml", ".dobi/config.yaml"}
	cfg.Metrics.Addr = ":9090"
	buf.Reset()
	printConfig(&buf, cfg, target)
	assert.Contains(t, buf.String(), "Files: /etc/a.yaml, .dobi/config.yaml")
	assert.Contains(t, buf.String(), "Metrics: :9090")
}

func TestDirectionNames(t *testing.T) {
	assert.Equal(t, []string{"forward", "backward", "left", "right", "stop"}, directionNames())
}

func TestSampleDetections_AgainstSim(t *testing.T) {
	sim, srv := testutil.StartSim(t, backendsim.Options{Seed: 3, MaxObjects: 3})
	c := backend.NewHTTPClient(srv.URL)

	_, err := c.Connect(context.Background(), backend.ConnectRequest{StreamURL: "http://cam.local/stream", PiIP: "10.40.0.1"})
	require.NoError(t, err)
	require.True(t, sim.Running())

	state, err := sampleDetections(context.Background(), c, 4, time.Millisecond, 20)
	require.NoError(t, err)

	assert.Equal(t, 4, state.Stats.Ticks)
	assert.Equal(t, 4, state.Window.Len())
	assert.LessOrEqual(t, len(state.Latest.Detections), 3)
	for _, d := range state.Latest.Detections {
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
}
