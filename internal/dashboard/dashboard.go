// Package dashboard wires the live-state core together: one connection
// manager, one polling scheduler, one aggregator and one command throttle,
// kept in lockstep by connection transitions.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/npratt/dobi/internal/aggregator"
	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/clock"
	"github.com/npratt/dobi/internal/config"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/events"
	"github.com/npratt/dobi/internal/metrics"
	"github.com/npratt/dobi/internal/poller"
	"github.com/npratt/dobi/internal/settings"
	"github.com/npratt/dobi/internal/throttle"
)

// Cadence names.
const (
	CadenceHealth     = "health"
	CadenceDetections = "detections"
	CadenceAnalytics  = "analytics"
)

// BackendStatus is the last /status answer for the current session.
type BackendStatus struct {
	Known       bool
	Running     bool
	FrameCount  int64
	HasFrame    bool
	ModelLoaded bool
	LastError   string
}

// View is everything a renderer needs, taken at one instant.
type View struct {
	Connection    connection.State
	Latency       Latency
	Stats         aggregator.SessionStats
	Window        []aggregator.Point
	Latest        aggregator.Batch
	BackendStatus BackendStatus
	Throttle      throttle.State
	VideoURL      string // empty while disconnected
	CommandsSent  uint64
	Target        connection.Target
}

// Options configures a Dashboard.
type Options struct {
	Config *config.Config
	// Target is the initial stream, robot and backend addresses.
	Target connection.Target
	// Settings, when set, receives the target after each successful connect.
	Settings *settings.Store
	Dial     connection.Dialer
	Router   *events.Router
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Dashboard is the live-state core. Create with New and release with Close.
type Dashboard struct {
	store    *settings.Store
	router   *events.Router
	clock    clock.Clock
	logger   *slog.Logger
	conn     *connection.Manager
	sched    *poller.Scheduler
	agg      *aggregator.Aggregator
	thr      *throttle.Throttle
	metrics  *metrics.Metrics
	latency  slot[Latency]
	status   slot[BackendStatus]
	target   atomic.Pointer[connection.Target]
	sent     atomic.Uint64
	closed   atomic.Bool

	stopTimeout time.Duration
}

// New builds a disconnected Dashboard.
func New(opts Options) *Dashboard {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Router == nil {
		opts.Router = events.NewRouter(0, opts.Logger)
	}
	cfg := opts.Config
	if opts.Dial == nil {
		opts.Dial = func(endpoint string) backend.Client {
			return backend.NewHTTPClient(endpoint,
				backend.WithTimeout(cfg.Backend.RequestTimeout),
				backend.WithHealthTimeout(cfg.Polling.HealthTimeout),
			)
		}
	}

	d := &Dashboard{
		store:  opts.Settings,
		router: opts.Router,
		clock:  opts.Clock,
		logger: opts.Logger,
		agg:    aggregator.New(cfg.Analytics.WindowSize),

		stopTimeout: cfg.Control.SendTimeout,
	}
	if d.stopTimeout <= 0 {
		d.stopTimeout = throttle.DefaultSendTimeout
	}
	target := opts.Target
	d.target.Store(&target)
	d.latency.reset(0, LatencyUnavailable)

	d.metrics = metrics.New(metrics.Gauges{
		Connected: func() bool { return d.conn.IsConnected() },
		LatencyMs: func() int64 { return int64(d.latency.get()) },
		TotalDetections: func() int {
			return d.agg.Snapshot().Stats.TotalDetections
		},
		PPECompliance: func() float64 {
			return d.agg.Snapshot().Stats.PPECompliance
		},
		EventsDropped: d.router.Dropped,
	})

	d.conn = connection.New(connection.Options{
		Endpoint:       target.Endpoint,
		Dial:           opts.Dial,
		Clock:          opts.Clock,
		Logger:         opts.Logger.With("component", "connection"),
		ConnectTimeout: cfg.Backend.ConnectTimeout,
	})

	d.sched = poller.New(poller.Options{
		Clock:    opts.Clock,
		Logger:   opts.Logger.With("component", "poller"),
		Observer: d.metrics,
	},
		poller.Cadence{
			Name:     CadenceHealth,
			Interval: cfg.Polling.HealthInterval,
			Timeout:  cfg.Polling.HealthTimeout,
			Tick:     d.healthTick,
		},
		poller.Cadence{
			Name:     CadenceDetections,
			Interval: cfg.Polling.DetectionsInterval,
			Tick:     d.detectionsTick,
		},
		poller.Cadence{
			Name:     CadenceAnalytics,
			Interval: cfg.Polling.AnalyticsInterval,
			Tick:     d.analyticsTick,
		},
	)

	d.thr = throttle.New(throttle.Options{
		Send:        d.sendMove,
		Connected:   d.conn.IsConnected,
		Cooldown:    cfg.Control.Cooldown,
		Deadman:     cfg.Control.Deadman,
		QueueSize:   cfg.Control.QueueSize,
		SendTimeout: cfg.Control.SendTimeout,
		Clock:       opts.Clock,
		Logger:      opts.Logger.With("component", "throttle"),
		Observer:    commandObserver{d},
	})

	d.conn.OnTransition(d.onTransition)
	return d
}

// onTransition keeps every component in step with the connection. It runs
// before Connect or Disconnect returns.
func (d *Dashboard) onTransition(prev, next connection.State) {
	d.sched.Stop()
	d.agg.Reset(next.Generation)
	d.latency.reset(next.Generation, LatencyUnavailable)
	d.status.reset(next.Generation, BackendStatus{})
	if owed := d.thr.Halt(); owed && prev.Connected {
		d.finalStop(prev)
	}

	if next.Connected {
		d.router.Emit(&events.ConnectedEvent{
			BaseEvent:  events.NewEvent(events.EventConnected, events.SourceConnection),
			Endpoint:   next.Endpoint,
			SessionID:  next.SessionID,
			Generation: next.Generation,
		})
		d.sched.Start(next.Generation)
		return
	}
	d.router.Emit(&events.DisconnectedEvent{
		BaseEvent: events.NewEvent(events.EventDisconnected, events.SourceConnection),
		Endpoint:  prev.Endpoint,
		SessionID: prev.SessionID,
		Duration:  next.Since.Sub(prev.Since),
	})
}

// Connect attaches to target. An empty target field keeps the current value.
func (d *Dashboard) Connect(ctx context.Context, target connection.Target) error {
	if d.closed.Load() {
		return errors.New("dashboard closed")
	}
	merged := d.Target()
	if target.Endpoint != "" {
		merged.Endpoint = target.Endpoint
	}
	if target.StreamURL != "" {
		merged.StreamURL = target.StreamURL
	}
	if target.PiIP != "" {
		merged.PiIP = target.PiIP
	}
	d.target.Store(&merged)

	if err := d.conn.Connect(ctx, merged); err != nil {
		d.router.Emit(&events.ConnectFailedEvent{
			BaseEvent: events.NewEvent(events.EventConnectFailed, events.SourceConnection),
			Endpoint:  d.conn.Endpoint(),
			Message:   failureMessage(err),
		})
		return err
	}

	if d.store != nil {
		_, err := d.store.Update(func(s *settings.Settings) error {
			s.BackendURL = merged.Endpoint
			s.StreamURL = merged.StreamURL
			s.PiIP = merged.PiIP
			return nil
		})
		if err != nil {
			d.logger.Warn("save settings failed", "path", d.store.Path(), "error", err)
		}
	}
	return nil
}

// Disconnect detaches. Polling, statistics and throttle state are reset
// before it returns.
func (d *Dashboard) Disconnect() {
	d.conn.Disconnect()
}

// Press forwards a directional intent to the throttle.
func (d *Dashboard) Press(dir backend.Direction) throttle.Outcome {
	return d.thr.Press(dir)
}

// Release ends a directional intent.
func (d *Dashboard) Release(dir backend.Direction) throttle.Outcome {
	return d.thr.Release(dir)
}

// Stop requests an immediate stop.
func (d *Dashboard) Stop() throttle.Outcome {
	return d.thr.Stop()
}

// Target returns the addresses used by the next Connect.
func (d *Dashboard) Target() connection.Target {
	return *d.target.Load()
}

// Connected reports whether a session is live.
func (d *Dashboard) Connected() bool {
	return d.conn.IsConnected()
}

// Metrics returns the dashboard's collectors.
func (d *Dashboard) Metrics() *metrics.Metrics {
	return d.metrics
}

// Router returns the event router.
func (d *Dashboard) Router() *events.Router {
	return d.router
}

// Snapshot returns the current view.
func (d *Dashboard) Snapshot() View {
	conn := d.conn.Snapshot()
	agg := d.agg.Snapshot()
	v := View{
		Connection:    conn,
		Latency:       d.latency.get(),
		Stats:         agg.Stats,
		Window:        agg.Window.Points(),
		Latest:        agg.Latest,
		BackendStatus: d.status.get(),
		Throttle:      d.thr.State(),
		CommandsSent:  d.sent.Load(),
		Target:        d.Target(),
	}
	if conn.Connected {
		v.VideoURL = d.conn.Client().VideoURL()
	}
	return v
}

// Close disconnects, waits for in-flight ticks and stops the throttle.
func (d *Dashboard) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.conn.Disconnect()
	d.sched.Stop()
	d.sched.Wait()
	d.thr.Close()
}

func (d *Dashboard) healthTick(ctx context.Context, gen uint64) error {
	client := d.conn.Client()
	elapsed, err := client.Ping(ctx)
	l := LatencyUnavailable
	if err == nil {
		l = LatencyFromDuration(elapsed)
	}
	if d.latency.set(gen, l) {
		d.router.Emit(&events.LatencyEvent{
			BaseEvent: events.NewEvent(events.EventLatency, events.SourcePoller),
			LatencyMs: int64(l),
		})
	}
	return err
}

func (d *Dashboard) detectionsTick(ctx context.Context, gen uint64) error {
	resp, err := d.conn.Client().Detections(ctx)
	if err != nil {
		return fmt.Errorf("fetch detections: %w", err)
	}
	batch := aggregator.Batch{Detections: resp.Detections, Timestamp: resp.Timestamp}
	next, ok := d.agg.Apply(gen, batch, d.clock.Now())
	if !ok {
		d.logger.Debug("stale detections discarded", "generation", gen)
		return nil
	}

	stats := next.Stats
	ev := events.DetectionsEvent{
		BaseEvent:       events.NewEvent(events.EventDetections, events.SourcePoller),
		Count:           len(resp.Detections),
		TotalDetections: stats.TotalDetections,
		AvgConfidence:   stats.AvgConfidence,
		PPECompliance:   stats.PPECompliance,
		PersonCount:     stats.PersonCount,
	}
	for _, det := range resp.Detections {
		ev.Detections = append(ev.Detections, events.DetectionSummary{
			Label:      det.Label,
			Confidence: det.Confidence,
			PPEStatus:  string(det.PPEStatus),
		})
	}
	d.router.Emit(&ev)
	return nil
}

func (d *Dashboard) analyticsTick(ctx context.Context, gen uint64) error {
	st, err := d.conn.Client().Status(ctx)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	bs := BackendStatus{
		Known:       true,
		Running:     st.Running,
		FrameCount:  st.FrameCount,
		HasFrame:    st.HasFrame,
		ModelLoaded: st.ModelLoaded,
		LastError:   st.LastError,
	}
	if d.status.set(gen, bs) {
		d.router.Emit(&events.BackendStatusEvent{
			BaseEvent:   events.NewEvent(events.EventBackendStatus, events.SourcePoller),
			Running:     bs.Running,
			FrameCount:  bs.FrameCount,
			HasFrame:    bs.HasFrame,
			ModelLoaded: bs.ModelLoaded,
			LastError:   bs.LastError,
		})
	}
	return nil
}

// finalStop sends the stop the ending session still owes the robot, on the
// client that session used. /disconnect only releases the video stream; the
// motors keep their last command.
func (d *Dashboard) finalStop(prev connection.State) {
	ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
	defer cancel()

	start := d.clock.Now()
	err := d.conn.Client().Move(ctx, backend.Stop)
	if err != nil {
		d.logger.Warn("final stop failed", "endpoint", prev.Endpoint, "session", prev.SessionID, "error", err)
	} else {
		d.logger.Info("sent final stop", "endpoint", prev.Endpoint, "session", prev.SessionID)
	}
	commandObserver{d}.ObserveSend(backend.Stop, d.clock.Now().Sub(start), err)
}

func (d *Dashboard) sendMove(ctx context.Context, dir backend.Direction) error {
	if !d.conn.IsConnected() {
		return connection.ErrNotConnected
	}
	return d.conn.Client().Move(ctx, dir)
}

// commandObserver forwards throttle telemetry to metrics and events.
type commandObserver struct {
	d *Dashboard
}

func (o commandObserver) ObserveIntent(dir backend.Direction, outcome throttle.Outcome) {
	o.d.metrics.ObserveIntent(dir, outcome)
	o.d.router.Emit(&events.CommandEvent{
		BaseEvent: events.NewEvent(events.EventCommand, events.SourceThrottle),
		Direction: string(dir),
		Outcome:   outcome.String(),
	})
}

func (o commandObserver) ObserveSend(dir backend.Direction, elapsed time.Duration, err error) {
	o.d.metrics.ObserveSend(dir, elapsed, err)
	if err == nil {
		o.d.sent.Add(1)
		return
	}
	o.d.router.Emit(&events.CommandErrorEvent{
		BaseEvent: events.NewEvent(events.EventCommandError, events.SourceThrottle),
		Direction: string(dir),
		Message:   err.Error(),
	})
}

// failureMessage prefers the backend's own explanation.
func failureMessage(err error) string {
	var hs *backend.HandshakeError
	if errors.As(err, &hs) && hs.Message != "" {
		return hs.Message
	}
	return err.Error()
}
