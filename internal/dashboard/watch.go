package dashboard

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/npratt/dobi/internal/clock"
	"github.com/npratt/dobi/internal/events"
)

// DefaultWatchInterval is how often Watcher prints a summary.
const DefaultWatchInterval = 5 * time.Second

// WatchedEvents are the event types Watcher prints. Latency and backend
// status are left to the summaries.
var WatchedEvents = []events.EventType{
	events.EventConnected,
	events.EventDisconnected,
	events.EventConnectFailed,
	events.EventDetections,
	events.EventCommand,
	events.EventCommandError,
	events.EventError,
}

// Snapshotter provides views to print.
type Snapshotter interface {
	Snapshot() View
}

// Watcher prints events and periodic one-line summaries as plain text.
type Watcher struct {
	src      Snapshotter
	out      io.Writer
	interval time.Duration
	clock    clock.Clock
}

// NewWatcher creates a Watcher writing to out.
func NewWatcher(src Snapshotter, out io.Writer, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{src: src, out: out, interval: interval, clock: clock.Real{}}
}

// Run prints every event from evs, plus a summary each interval, until ctx
// is canceled or evs is closed. Subscribe with WatchedEvents to keep the
// output readable.
func (w *Watcher) Run(ctx context.Context, evs <-chan events.Event) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(w.out, events.FormatWithTimestamp(ev)); err != nil {
				return err
			}

		case now := <-ticker.C():
			if _, err := fmt.Fprintln(w.out, Summary(now, w.src.Snapshot())); err != nil {
				return err
			}
		}
	}
}

// Summary renders v as one line.
func Summary(now time.Time, v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", now.Format("15:04:05"))
	if !v.Connection.Connected {
		b.WriteString("disconnected")
		return b.String()
	}

	s := v.Stats
	fmt.Fprintf(&b, "%s latency=%s detections=%d avg_conf=%.1f%% ppe=%.1f%% persons=%d",
		v.Connection.Endpoint, v.Latency, s.TotalDetections, s.AvgConfidence*100, s.PPECompliance, s.PersonCount)
	if v.BackendStatus.Known {
		fmt.Fprintf(&b, " frames=%d", v.BackendStatus.FrameCount)
	}
	fmt.Fprintf(&b, " sent=%d", v.CommandsSent)
	return b.String()
}
