// Package throttle converts raw motor intents into a low-rate, de-duplicated
// command stream.
//
// Rules, in order: intents are ignored while disconnected; a repeat of the
// last sent non-stop direction is dropped; during the cooldown after any
// send, directional intents are dropped and a stop is held until the window
// ends. Accepted commands go to a single sender goroutine so the input path
// never blocks on the network.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/clock"
)

// Defaults.
const (
	DefaultCooldown    = 100 * time.Millisecond
	DefaultDeadman     = 600 * time.Millisecond
	DefaultQueueSize   = 16
	DefaultSendTimeout = 2 * time.Second
)

// Outcome is what happened to one intent.
type Outcome int

// Intent outcomes.
const (
	Sent Outcome = iota
	Deferred
	DroppedDisconnected
	DroppedDuplicate
	DroppedCooldown
	DroppedQueueFull
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Deferred:
		return "deferred"
	case DroppedDisconnected:
		return "dropped_disconnected"
	case DroppedDuplicate:
		return "dropped_duplicate"
	case DroppedCooldown:
		return "dropped_cooldown"
	case DroppedQueueFull:
		return "dropped_queue_full"
	}
	return "unknown"
}

// State is the throttle's bookkeeping. LastSent is empty when nothing has
// been sent since the last reset.
type State struct {
	LastSent       backend.Direction
	CooldownActive bool
}

// SendFunc delivers one command.
type SendFunc func(ctx context.Context, dir backend.Direction) error

// Observer is told about every intent and every delivery attempt.
type Observer interface {
	ObserveIntent(dir backend.Direction, outcome Outcome)
	ObserveSend(dir backend.Direction, elapsed time.Duration, err error)
}

// Options configures a Throttle.
type Options struct {
	Send      SendFunc
	Connected func() bool
	Cooldown  time.Duration
	// Deadman sends stop when no directional intent arrives for this long
	// after a move (0 disables).
	Deadman     time.Duration
	QueueSize   int
	SendTimeout time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
	Observer    Observer
}

type command struct {
	dir   backend.Direction
	epoch uint64
}

// Throttle gates motor intents. Create with New and release with Close.
type Throttle struct {
	send        SendFunc
	connected   func() bool
	cooldown    time.Duration
	deadman     time.Duration
	sendTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	observer    Observer

	mu           sync.Mutex
	state        State
	pendingStop  bool
	cooldownEnd  clock.Timer
	deadmanTimer clock.Timer
	// epoch invalidates queued commands and timer callbacks on Reset.
	epoch atomic.Uint64

	queue     chan command
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Throttle and starts its sender.
func New(opts Options) *Throttle {
	if opts.Connected == nil {
		opts.Connected = func() bool { return true }
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Deadman < 0 {
		opts.Deadman = 0
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Throttle{
		send:        opts.Send,
		connected:   opts.Connected,
		cooldown:    opts.Cooldown,
		deadman:     opts.Deadman,
		sendTimeout: opts.SendTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger,
		observer:    opts.Observer,
		queue:       make(chan command, opts.QueueSize),
		done:        make(chan struct{}),
	}
	t.wg.Add(1)
	go t.sendLoop()
	return t
}

// Press handles a press intent for dir.
func (t *Throttle) Press(dir backend.Direction) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected() {
		return t.observe(dir, DroppedDisconnected)
	}
	if dir != backend.Stop {
		t.armDeadmanLocked()
	}
	return t.observe(dir, t.decideLocked(dir))
}

// Release handles the end of a directional press. It always asks for stop.
func (t *Throttle) Release(_ backend.Direction) Outcome {
	return t.Press(backend.Stop)
}

// Stop asks for an explicit stop.
func (t *Throttle) Stop() Outcome {
	return t.Press(backend.Stop)
}

// State returns the current bookkeeping.
func (t *Throttle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns the throttle to {none, false}, cancels its timers and
// discards commands still queued.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Halt is Reset that also reports whether the robot is owed a final stop.
// That is the case once anything was accepted since the last reset: a move,
// a stop held for the end of the cooldown, or a stop still in the queue,
// which Reset discards.
func (t *Throttle) Halt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	owed := t.pendingStop || t.state.LastSent != ""
	t.resetLocked()
	return owed
}

func (t *Throttle) resetLocked() {
	t.epoch.Add(1)
	t.state = State{}
	t.pendingStop = false
	if t.cooldownEnd != nil {
		t.cooldownEnd.Stop()
		t.cooldownEnd = nil
	}
	if t.deadmanTimer != nil {
		t.deadmanTimer.Stop()
		t.deadmanTimer = nil
	}
}

// Close stops the sender. Queued commands are dropped.
func (t *Throttle) Close() {
	t.closeOnce.Do(func() {
		t.Reset()
		close(t.done)
	})
	t.wg.Wait()
}

func (t *Throttle) decideLocked(dir backend.Direction) Outcome {
	if dir != backend.Stop && dir == t.state.LastSent {
		return DroppedDuplicate
	}
	if t.state.CooldownActive {
		if dir == backend.Stop {
			t.pendingStop = true
			return Deferred
		}
		return DroppedCooldown
	}
	return t.sendLocked(dir)
}

func (t *Throttle) sendLocked(dir backend.Direction) Outcome {
	epoch := t.epoch.Load()
	select {
	case t.queue <- command{dir: dir, epoch: epoch}:
	default:
		t.logger.Warn("motor command queue full, dropping command", "direction", dir)
		return DroppedQueueFull
	}

	t.state = State{LastSent: dir, CooldownActive: true}
	t.cooldownEnd = t.clock.AfterFunc(t.cooldown, func() { t.endCooldown(epoch) })
	if dir == backend.Stop && t.deadmanTimer != nil {
		t.deadmanTimer.Stop()
		t.deadmanTimer = nil
	}
	return Sent
}

func (t *Throttle) endCooldown(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch.Load() {
		return
	}
	t.state.CooldownActive = false
	t.cooldownEnd = nil
	if t.pendingStop {
		t.pendingStop = false
		t.observe(backend.Stop, t.sendLocked(backend.Stop))
	}
}

func (t *Throttle) armDeadmanLocked() {
	if t.deadman <= 0 {
		return
	}
	if t.deadmanTimer != nil {
		t.deadmanTimer.Stop()
	}
	epoch := t.epoch.Load()
	t.deadmanTimer = t.clock.AfterFunc(t.deadman, func() { t.deadmanExpired(epoch) })
}

func (t *Throttle) deadmanExpired(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch.Load() {
		return
	}
	t.deadmanTimer = nil
	if t.state.LastSent == "" || t.state.LastSent == backend.Stop || t.pendingStop {
		return
	}
	if !t.connected() {
		return
	}
	t.logger.Info("no motor input, stopping", "last", t.state.LastSent, "after", t.deadman)
	t.observe(backend.Stop, t.decideLocked(backend.Stop))
}

func (t *Throttle) observe(dir backend.Direction, o Outcome) Outcome {
	if t.observer != nil {
		t.observer.ObserveIntent(dir, o)
	}
	return o
}

func (t *Throttle) sendLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case cmd := <-t.queue:
			if cmd.epoch != t.epoch.Load() {
				t.logger.Debug("dropping stale motor command", "direction", cmd.dir)
				continue
			}
			t.deliver(cmd.dir)
		}
	}
}

func (t *Throttle) deliver(dir backend.Direction) {
	if t.send == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.sendTimeout)
	defer cancel()

	start := t.clock.Now()
	err := t.send(ctx, dir)
	elapsed := t.clock.Now().Sub(start)
	if err != nil {
		t.logger.Warn("motor command failed", "direction", dir, "error", err)
	} else {
		t.logger.Debug("motor command sent", "direction", dir, "elapsed", elapsed)
	}
	if t.observer != nil {
		t.observer.ObserveSend(dir, elapsed, err)
	}
}
