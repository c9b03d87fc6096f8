package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/clock"
)

type harness struct {
	th        *Throttle
	clk       *clock.Manual
	sent      chan backend.Direction
	connected atomic.Bool
}

func newHarness(t *testing.T, deadman time.Duration) *harness {
	t.Helper()
	h := &harness{
		clk:  clock.NewManual(time.Unix(0, 0)),
		sent: make(chan backend.Direction, 32),
	}
	h.connected.Store(true)
	h.th = New(Options{
		Send: func(_ context.Context, dir backend.Direction) error {
			h.sent <- dir
			return nil
		},
		Connected: h.connected.Load,
		Cooldown:  100 * time.Millisecond,
		Deadman:   deadman,
		Clock:     h.clk,
	})
	t.Cleanup(h.th.Close)
	return h
}

// expectSent waits for the given commands, in order, and nothing else.
func (h *harness) expectSent(t *testing.T, want ...backend.Direction) {
	t.Helper()
	for i, w := range want {
		select {
		case got := <-h.sent:
			if got != w {
				t.Fatalf("command %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for command %d (%q)", i, w)
		}
	}
	select {
	case extra := <-h.sent:
		t.Fatalf("unexpected extra command %q", extra)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPress_DisconnectedIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	h.connected.Store(false)

	if got := h.th.Press(backend.Forward); got != DroppedDisconnected {
		t.Errorf("Press() = %v, want %v", got, DroppedDisconnected)
	}
	if got := h.th.State(); got != (State{}) {
		t.Errorf("State() = %+v, want zero", got)
	}
	h.expectSent(t)
}

func TestPress_DuplicateWithinCooldown(t *testing.T) {
	h := newHarness(t, 0)

	if got := h.th.Press(backend.Forward); got != Sent {
		t.Fatalf("first Press() = %v, want %v", got, Sent)
	}
	if got := h.th.Press(backend.Forward); got != DroppedDuplicate {
		t.Errorf("second Press() = %v, want %v", got, DroppedDuplicate)
	}
	h.expectSent(t, backend.Forward)
}

func TestPress_DuplicateAfterCooldown(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Press(backend.Forward)
	h.clk.Advance(time.Second)
	if got := h.th.Press(backend.Forward); got != DroppedDuplicate {
		t.Errorf("Press() after cooldown = %v, want %v", got, DroppedDuplicate)
	}
	h.expectSent(t, backend.Forward)
}

func TestPress_CooldownDropsOtherDirections(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Press(backend.Forward)
	if !h.th.State().CooldownActive {
		t.Error("CooldownActive = false right after a send")
	}
	if got := h.th.Press(backend.Left); got != DroppedCooldown {
		t.Errorf("Press(left) during cooldown = %v, want %v", got, DroppedCooldown)
	}

	h.clk.Advance(100 * time.Millisecond)
	if h.th.State().CooldownActive {
		t.Error("CooldownActive = true after window elapsed")
	}
	if got := h.th.Press(backend.Left); got != Sent {
		t.Errorf("Press(left) after cooldown = %v, want %v", got, Sent)
	}
	h.expectSent(t, backend.Forward, backend.Left)
}

func TestForwardThenStop_AlwaysTwoCommands(t *testing.T) {
	gaps := []time.Duration{0, 10 * time.Millisecond, 99 * time.Millisecond, 100 * time.Millisecond, time.Second}
	for _, gap := range gaps {
		t.Run(gap.String(), func(t *testing.T) {
			h := newHarness(t, 0)

			h.th.Press(backend.Forward)
			h.clk.Advance(gap)
			h.th.Release(backend.Forward)
			h.clk.Advance(time.Second)

			h.expectSent(t, backend.Forward, backend.Stop)
			if got := h.th.State().LastSent; got != backend.Stop {
				t.Errorf("LastSent = %q, want stop", got)
			}
		})
	}
}

func TestStop_DeferredUntilCooldownEnds(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Press(backend.Forward)
	if got := h.th.Stop(); got != Deferred {
		t.Fatalf("Stop() during cooldown = %v, want %v", got, Deferred)
	}
	h.expectSent(t, backend.Forward)

	h.clk.Advance(100 * time.Millisecond)
	h.expectSent(t, backend.Stop)

	// the deferred stop starts its own cooldown
	if !h.th.State().CooldownActive {
		t.Error("CooldownActive = false after deferred stop was sent")
	}
}

func TestStop_NotDeduplicated(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Stop()
	h.clk.Advance(time.Second)
	if got := h.th.Stop(); got != Sent {
		t.Errorf("second Stop() = %v, want %v", got, Sent)
	}
	h.expectSent(t, backend.Stop, backend.Stop)
}

func TestReset(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Press(backend.Forward)
	h.th.Stop() // deferred
	h.th.Reset()

	if got := h.th.State(); got != (State{}) {
		t.Errorf("State() after Reset = %+v, want zero", got)
	}
	h.clk.Advance(time.Second)

	// The pending stop was discarded with the rest of the session, and the
	// same direction is accepted again.
	if got := h.th.Press(backend.Forward); got != Sent {
		t.Errorf("Press() after Reset = %v, want %v", got, Sent)
	}
}

func TestHalt(t *testing.T) {
	tests := []struct {
		name    string
		actions func(th *Throttle)
		want    bool
	}{
		{"nothing sent", func(*Throttle) {}, false},
		{"moving", func(th *Throttle) { th.Press(backend.Forward) }, true},
		{"stop held in cooldown", func(th *Throttle) {
			th.Press(backend.Left)
			th.Release(backend.Left)
		}, true},
		{"stop accepted", func(th *Throttle) { th.Stop() }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			tt.actions(h.th)

			if got := h.th.Halt(); got != tt.want {
				t.Errorf("Halt() = %v, want %v", got, tt.want)
			}
			if got := h.th.State(); got != (State{}) {
				t.Errorf("State() after Halt = %+v, want zero", got)
			}
			if h.th.Halt() {
				t.Error("second Halt() should owe nothing")
			}
		})
	}
}

func TestDeadman_StopsAfterSilence(t *testing.T) {
	h := newHarness(t, 600*time.Millisecond)

	h.th.Press(backend.Forward)
	h.expectSent(t, backend.Forward)

	// key repeat keeps the robot moving
	for i := 0; i < 5; i++ {
		h.clk.Advance(300 * time.Millisecond)
		if got := h.th.Press(backend.Forward); got != DroppedDuplicate {
			t.Fatalf("repeat Press() = %v, want %v", got, DroppedDuplicate)
		}
	}
	h.expectSent(t)

	h.clk.Advance(600 * time.Millisecond)
	h.expectSent(t, backend.Stop)
}

func TestDeadman_QuietAfterExplicitStop(t *testing.T) {
	h := newHarness(t, 600*time.Millisecond)

	h.th.Press(backend.Forward)
	h.clk.Advance(200 * time.Millisecond)
	h.th.Release(backend.Forward)
	h.clk.Advance(2 * time.Second)

	h.expectSent(t, backend.Forward, backend.Stop)
}

func TestDeadman_Disabled(t *testing.T) {
	h := newHarness(t, 0)

	h.th.Press(backend.Right)
	h.clk.Advance(10 * time.Second)

	h.expectSent(t, backend.Right)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	sendErrs int
}

func (r *recordingObserver) ObserveIntent(_ backend.Direction, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) ObserveSend(_ backend.Direction, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.sendErrs++
	}
}

func TestSendFailure_DoesNotBlockInput(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	obs := &recordingObserver{}
	attempts := make(chan backend.Direction, 8)
	th := New(Options{
		Send: func(_ context.Context, dir backend.Direction) error {
			attempts <- dir
			return errors.New("Pi connection timeout")
		},
		Clock:    clk,
		Observer: obs,
	})
	defer th.Close()

	th.Press(backend.Forward)
	clk.Advance(time.Second)
	th.Press(backend.Backward)

	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("send not attempted")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		obs.mu.Lock()
		n := obs.sendErrs
		obs.mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			if n != 2 {
				t.Errorf("send errors observed = %d, want 2", n)
			}
			break
		}
		time.Sleep(time.Millisecond)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 2 || obs.outcomes[0] != Sent || obs.outcomes[1] != Sent {
		t.Errorf("outcomes = %v, want [sent sent]", obs.outcomes)
	}
}

func TestQueueFull_DropsWithoutBlocking(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	release := make(chan struct{})
	th := New(Options{
		Send: func(ctx context.Context, _ backend.Direction) error {
			<-release
			return nil
		},
		QueueSize: 1,
		Clock:     clk,
	})
	defer func() {
		close(release)
		th.Close()
	}()

	dirs := []backend.Direction{backend.Forward, backend.Left, backend.Right, backend.Backward}
	var full int
	for _, d := range dirs {
		if th.Press(d) == DroppedQueueFull {
			full++
		}
		clk.Advance(time.Second)
	}
	if full == 0 {
		t.Error("expected at least one DroppedQueueFull with a blocked sender and queue size 1")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Sent, "sent"},
		{Deferred, "deferred"},
		{DroppedDisconnected, "dropped_disconnected"},
		{DroppedDuplicate, "dropped_duplicate"},
		{DroppedCooldown, "dropped_cooldown"},
		{DroppedQueueFull, "dropped_queue_full"},
		{Outcome(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}
