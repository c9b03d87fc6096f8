package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// record is one line of the event log. Seq orders lines across rotated
// files; Type lets jq filter without knowing the payload shape.
type record struct {
	Seq   uint64    `json:"seq"`
	Type  EventType `json:"type"`
	Event Event     `json:"event"`
}

// Rotation bounds the event log on disk. Zero values take lumberjack's
// defaults (100 MB, keep everything).
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogSinkOption configures a LogSink.
type LogSinkOption func(*LogSink)

// WithRotation sets size and retention limits for the event log.
func WithRotation(r Rotation) LogSinkOption {
	return func(s *LogSink) { s.rotation = r }
}

// LogSink appends every event it receives to a JSON lines file. Each run
// starts a fresh file; the previous one is kept as a timestamped backup.
type LogSink struct {
	path     string
	rotation Rotation
	logger   *slog.Logger

	mu  sync.Mutex
	out *lumberjack.Logger
	enc *json.Encoder
	seq uint64

	done chan struct{}
}

// NewLogSink creates a sink for path. Nothing is opened until Start.
func NewLogSink(path string, logger *slog.Logger, opts ...LogSinkOption) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LogSink{path: path, logger: logger, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the file and consumes events in the background until ctx is
// canceled or the channel closes.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   s.path,
		MaxSize:    s.rotation.MaxSizeMB,
		MaxBackups: s.rotation.MaxBackups,
		MaxAge:     s.rotation.MaxAgeDays,
		Compress:   s.rotation.Compress,
	}
	if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
		if err := out.Rotate(); err != nil {
			return fmt.Errorf("rotate previous event log: %w", err)
		}
	}

	s.mu.Lock()
	s.out = out
	s.enc = json.NewEncoder(out)
	s.mu.Unlock()

	go s.consume(ctx, events)
	return nil
}

func (s *LogSink) consume(ctx context.Context, events <-chan Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.append(ev)
		}
	}
}

func (s *LogSink) append(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return
	}
	rec := record{Seq: s.seq + 1, Type: ev.Type(), Event: ev}
	if err := s.enc.Encode(rec); err != nil {
		s.logger.Warn("event log write failed", "event_type", ev.Type(), "path", s.path, "error", err)
		return
	}
	s.seq = rec.Seq
}

// Stop waits for the consumer to exit and closes the file.
func (s *LogSink) Stop() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out, s.enc = nil, nil
	return err
}

// Written returns the number of events written so far.
func (s *LogSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.seq)
}

// Path returns the log file path.
func (s *LogSink) Path() string {
	return s.path
}
