// Package metrics exposes the live-state core's telemetry as Prometheus
// metrics on an optional listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/throttle"
)

const namespace = "dobi"

// Gauges reads live values at scrape time.
type Gauges struct {
	Connected       func() bool
	LatencyMs       func() int64 // -1 when unavailable
	TotalDetections func() int
	PPECompliance   func() float64
	EventsDropped   func() uint64
}

// Metrics holds the collectors and their private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	tickErrors   *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	skips        *prometheus.CounterVec
	intents      *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
}

// New creates the collectors. Nil fields in g are not exported.
func New(g Gauges) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Completed polling ticks by cadence.",
		}, []string{"cadence"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Polling ticks that returned an error, by cadence.",
		}, []string{"cadence"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one fetch-and-apply tick.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"cadence"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Ticks skipped because the previous request was still in flight.",
		}, []string{"cadence"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motor_intents_total",
			Help:      "Motor intents by direction and outcome.",
		}, []string{"direction", "outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motor_sends_total",
			Help:      "Motor commands delivered to the backend by direction and result.",
		}, []string{"direction", "result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "motor_send_duration_seconds",
			Help:      "Round trip time of motor commands.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickErrors,
		m.tickDuration,
		m.skips,
		m.intents,
		m.sends,
		m.sendDuration,
	)
	m.registerGauges(g)
	return m
}

func (m *Metrics) registerGauges(g Gauges) {
	if g.Connected != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while attached to a backend.",
		}, func() float64 {
			if g.Connected() {
				return 1
			}
			return 0
		}))
	}
	if g.LatencyMs != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_latency_milliseconds",
			Help:      "Last /health round trip, -1 when unavailable.",
		}, func() float64 { return float64(g.LatencyMs()) }))
	}
	if g.TotalDetections != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_detections",
			Help:      "Detections counted in the current session.",
		}, func() float64 { return float64(g.TotalDetections()) }))
	}
	if g.PPECompliance != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ppe_compliance_percent",
			Help:      "PPE compliance of the latest batch.",
		}, g.PPECompliance))
	}
	if g.EventsDropped != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events not delivered because a subscriber was full.",
		}, func() float64 { return float64(g.EventsDropped()) }))
	}
}

// ObserveTick records a finished polling tick.
func (m *Metrics) ObserveTick(cadence string, elapsed time.Duration, err error) {
	m.ticks.WithLabelValues(cadence).Inc()
	m.tickDuration.WithLabelValues(cadence).Observe(elapsed.Seconds())
	if err != nil {
		m.tickErrors.WithLabelValues(cadence).Inc()
	}
}

// ObserveSkip records ticks skipped while a request was in flight.
func (m *Metrics) ObserveSkip(cadence string, skipped int) {
	m.skips.WithLabelValues(cadence).Add(float64(skipped))
}

// ObserveIntent records what the throttle did with an intent.
func (m *Metrics) ObserveIntent(dir backend.Direction, outcome throttle.Outcome) {
	m.intents.WithLabelValues(string(dir), outcome.String()).Inc()
}

// ObserveSend records a motor command delivery.
func (m *Metrics) ObserveSend(dir backend.Direction, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(string(dir), result).Inc()
	m.sendDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
