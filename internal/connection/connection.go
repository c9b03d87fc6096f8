// Package connection tracks whether the dashboard is attached to a backend.
//
// The Manager is the only place the connected flag flips. It owns the backend
// endpoint and client behind accessors, performs the connect handshake, and
// notifies registered listeners synchronously on every transition so the
// pollers, aggregator and throttle can follow it in lockstep.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/clock"
)

// ErrNotConnected is returned by operations that need an attached backend.
var ErrNotConnected = errors.New("not connected")

// ErrCanceled is returned by Connect when Disconnect interrupts the handshake.
var ErrCanceled = errors.New("connect canceled")

// State is an immutable snapshot of the connection.
type State struct {
	Connected bool
	Endpoint  string
	// Generation increments on every transition. Work started under one
	// generation must not be applied once it has moved on.
	Generation uint64
	SessionID  string
	Since      time.Time
	LastError  string
}

// Target describes what to attach to.
type Target struct {
	Endpoint  string // empty keeps the current endpoint
	StreamURL string
	PiIP      string
}

// Dialer builds a backend client for an endpoint.
type Dialer func(endpoint string) backend.Client

// Listener observes a transition. Listeners run synchronously on the
// goroutine performing the transition and must not call Connect or Disconnect.
type Listener func(prev, next State)

// Options configures a Manager.
type Options struct {
	Endpoint          string
	Dial              Dialer
	Clock             clock.Clock
	Logger            *slog.Logger
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Manager owns the connection state.
type Manager struct {
	dial              Dialer
	clock             clock.Clock
	logger            *slog.Logger
	connectTimeout    time.Duration
	disconnectTimeout time.Duration

	// opMu serializes transitions. mu guards the fields below it and is
	// never held while calling the backend or listeners.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	client     backend.Client
	listeners  []Listener
	cancelDial context.CancelFunc
}

// New creates a disconnected Manager for opts.Endpoint.
func New(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = func(endpoint string) backend.Client { return backend.NewHTTPClient(endpoint) }
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = backend.DefaultTimeout
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = 2 * time.Second
	}
	return &Manager{
		dial:              opts.Dial,
		clock:             opts.Clock,
		logger:            opts.Logger,
		connectTimeout:    opts.ConnectTimeout,
		disconnectTimeout: opts.DisconnectTimeout,
		state:             State{Endpoint: opts.Endpoint},
		client:            opts.Dial(opts.Endpoint),
	}
}

// OnTransition registers a listener for every later transition.
func (m *Manager) OnTransition(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// IsConnected reports whether the backend accepted the last handshake and
// no disconnect has happened since.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Connected
}

// Endpoint returns the configured backend endpoint.
func (m *Manager) Endpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Endpoint
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Client returns the client for the current endpoint, connected or not.
func (m *Manager) Client() backend.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Current reports whether gen is still the live connected generation.
func (m *Manager) Current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Connected && m.state.Generation == gen
}

// Connect performs the handshake with target. Only a "connected" answer
// flips the state; any failure leaves the manager disconnected and returns
// an error carrying the backend's message. An existing connection is torn
// down first.
func (m *Manager) Connect(ctx context.Context, target Target) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsConnected() {
		m.disconnectLocked("reconnect")
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	m.mu.Lock()
	if target.Endpoint != "" && target.Endpoint != m.state.Endpoint {
		m.state.Endpoint = target.Endpoint
		m.client = m.dial(target.Endpoint)
	}
	client := m.client
	endpoint := m.state.Endpoint
	m.cancelDial = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancelDial = nil
		m.mu.Unlock()
	}()

	m.logger.Info("connecting", "endpoint", endpoint, "stream_url", target.StreamURL, "pi_ip", target.PiIP)

	_, err := client.Connect(dialCtx, backend.ConnectRequest{
		StreamURL: target.StreamURL,
		PiIP:      target.PiIP,
	})
	if err == nil && dialCtx.Err() != nil {
		err = dialCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			err = ErrCanceled
		}
		m.mu.Lock()
		m.state.LastError = err.Error()
		m.mu.Unlock()
		m.logger.Warn("connect failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}

	m.mu.Lock()
	prev := m.state
	next := State{
		Connected:  true,
		Endpoint:   endpoint,
		Generation: prev.Generation + 1,
		SessionID:  uuid.NewString(),
		Since:      m.clock.Now(),
	}
	m.state = next
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("connected", "endpoint", endpoint, "session", next.SessionID, "generation", next.Generation)
	for _, l := range listeners {
		l(prev, next)
	}
	return nil
}

// Disconnect resets the state and runs the cascade before returning. It
// also interrupts a handshake in progress. The backend is told with a
// best-effort request whose error is ignored.
func (m *Manager) Disconnect() {
	m.mu.RLock()
	cancel := m.cancelDial
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	m.opMu.Lock()
	client, ok := m.disconnectLocked("requested")
	m.opMu.Unlock()

	if ok {
		m.notifyBackend(client)
	}
}

// disconnectLocked flips the state and runs listeners. opMu must be held.
// It reports false when already disconnected.
func (m *Manager) disconnectLocked(reason string) (backend.Client, bool) {
	m.mu.Lock()
	prev := m.state
	if !prev.Connected {
		m.mu.Unlock()
		return nil, false
	}
	next := State{
		Endpoint:   prev.Endpoint,
		Generation: prev.Generation + 1,
		Since:      m.clock.Now(),
	}
	m.state = next
	client := m.client
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("disconnected", "endpoint", prev.Endpoint, "session", prev.SessionID, "reason", reason)
	for _, l := range listeners {
		l(prev, next)
	}
	if reason == "reconnect" {
		m.notifyBackend(client)
	}
	return client, true
}

func (m *Manager) notifyBackend(client backend.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), m.disconnectTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		m.logger.Debug("backend disconnect failed", "error", err)
	}
}
