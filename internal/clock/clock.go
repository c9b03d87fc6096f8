// Package clock provides a testable abstraction over timers and tickers.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the time operations used by cadences and the command throttle.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a Ticker that delivers ticks with period d.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single pending callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns false if it already fired or was stopped.
	Stop() bool
}

// Ticker delivers ticks of a clock at intervals.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real implements Clock using the standard time package.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewTicker wraps time.NewTicker.
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// Manual is a manually advanced clock for tests.
// Callbacks registered with AfterFunc run synchronously inside Advance,
// in deadline order, after the clock lock has been released.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

// NewManual creates a Manual clock set to the given time.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

type manualTimer struct {
	clock  *Manual
	when   time.Time
	fn     func()
	period time.Duration
	ch     chan time.Time
	done   bool
}

// Now returns the mocked current time.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *Manual) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, when: c.now.Add(d), fn: f}
	c.pending = append(c.pending, t)
	return t
}

// NewTicker returns a ticker that fires every d of advanced time.
// Like time.Ticker, ticks are dropped when the channel is not drained.
func (c *Manual) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, when: c.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	c.pending = append(c.pending, t)
	return manualTicker{t}
}

// Pending returns the number of timers and tickers that have not fired or been stopped.
func (c *Manual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.compactLocked()
			c.mu.Unlock()
			return
		}
		c.now = next.when
		if next.period > 0 {
			select {
			case next.ch <- next.when:
			default:
			}
			next.when = next.when.Add(next.period)
			c.mu.Unlock()
			continue
		}
		next.done = true
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

func (c *Manual) nextDueLocked(target time.Time) *manualTimer {
	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].when.Before(c.pending[j].when)
	})
	for _, t := range c.pending {
		if t.done {
			continue
		}
		if t.when.After(target) {
			return nil
		}
		return t
	}
	return nil
}

func (c *Manual) compactLocked() {
	live := c.pending[:0]
	for _, t := range c.pending {
		if !t.done {
			live = append(live, t)
		}
	}
	c.pending = live
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

type manualTicker struct {
	t *manualTimer
}

func (k manualTicker) C() <-chan time.Time { return k.t.ch }
func (k manualTicker) Stop()               { k.t.Stop() }
