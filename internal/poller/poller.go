// Package poller runs independent periodic fetch-and-apply cadences.
//
// Each cadence runs in its own goroutine with its own ticker. Ticks within a
// cadence never overlap: a tick that falls due while the previous one is
// still running is skipped, not queued. Stop halts scheduling immediately
// without aborting requests already in flight; their results are tagged with
// the generation captured at Start so consumers can discard them.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npratt/dobi/internal/clock"
)

// TickFunc performs one fetch-and-apply cycle. gen is the generation passed
// to Start; implementations must not apply results for a stale generation.
// A returned error is logged and counted; the cadence keeps its schedule.
type TickFunc func(ctx context.Context, gen uint64) error

// Cadence is one named periodic task.
type Cadence struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per-tick deadline (0 = none beyond the client's own)
	Tick     TickFunc
}

// Observer receives scheduling telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveTick(cadence string, elapsed time.Duration, err error)
	ObserveSkip(cadence string, skipped int)
}

// Options configures a Scheduler.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

type cadence struct {
	Cadence
	// inflight outlives a session so a request left running by Stop
	// blocks the first tick of the next session.
	inflight atomic.Bool
}

// Scheduler runs a fixed set of cadences between Start and Stop.
type Scheduler struct {
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	cadences []*cadence

	mu      sync.Mutex
	running bool
	gen     uint64
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped Scheduler. Cadences with a non-positive interval
// or no tick function are ignored.
func New(opts Options, cadences ...Cadence) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scheduler{
		clock:    opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
	for _, c := range cadences {
		if c.Interval <= 0 || c.Tick == nil {
			continue
		}
		s.cadences = append(s.cadences, &cadence{Cadence: c})
	}
	return s
}

// Cadences returns the names of the scheduled cadences.
func (s *Scheduler) Cadences() []string {
	names := make([]string, len(s.cadences))
	for i, c := range s.cadences {
		names[i] = c.Name
	}
	return names
}

// Start begins every cadence for generation gen with an immediate first
// tick. A running scheduler is stopped first.
func (s *Scheduler) Start(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}
	s.running = true
	s.gen = gen
	s.stop = make(chan struct{})

	for _, c := range s.cadences {
		ticker := s.clock.NewTicker(c.Interval)
		s.wg.Add(1)
		go s.run(c, gen, s.stop, ticker)
	}
	s.logger.Debug("polling started", "generation", gen, "cadences", len(s.cadences))
}

// Stop cancels scheduling for every cadence. No tick starts after Stop
// returns. Ticks already running finish in the background.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
	s.logger.Debug("polling stopped", "generation", s.gen)
}

// Running reports whether the scheduler is between Start and Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every cadence goroutine, including in-flight ticks,
// has exited. Call it after Stop.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(c *cadence, gen uint64, stop <-chan struct{}, ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	s.tick(c, gen, stop, ticker)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.tick(c, gen, stop, ticker)
		}
	}
}

// begin decides under the scheduler lock whether a tick may start, so a
// concurrent Stop either happens entirely before or entirely after it.
func (s *Scheduler) begin(c *cadence, stop <-chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	return c.inflight.CompareAndSwap(false, true)
}

func (s *Scheduler) tick(c *cadence, gen uint64, stop <-chan struct{}, ticker clock.Ticker) {
	if !s.begin(c, stop) {
		select {
		case <-stop:
		default:
			s.logger.Debug("tick skipped, previous request in flight", "cadence", c.Name)
			s.observeSkip(c.Name, 1)
		}
		return
	}

	start := s.clock.Now()
	err := s.invoke(c, gen)
	c.inflight.Store(false)
	elapsed := s.clock.Now().Sub(start)

	if err != nil {
		s.logger.Debug("tick failed", "cadence", c.Name, "generation", gen, "error", err)
	}
	if s.observer != nil {
		s.observer.ObserveTick(c.Name, elapsed, err)
	}

	skipped := int(elapsed / c.Interval)
	select {
	case <-ticker.C():
		if skipped == 0 {
			skipped = 1
		}
	default:
	}
	if skipped > 0 {
		s.observeSkip(c.Name, skipped)
	}
}

func (s *Scheduler) invoke(c *cadence, gen uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked", "cadence", c.Name, "panic", r)
			err = fmt.Errorf("tick %s panicked: %v", c.Name, r)
		}
	}()

	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return c.Tick(ctx, gen)
}

func (s *Scheduler) observeSkip(name string, n int) {
	if s.observer != nil {
		s.observer.ObserveSkip(name, n)
	}
}
