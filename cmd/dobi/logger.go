package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/npratt/dobi/internal/config"
)

// debugLog is the rotating file the TUI logs to while it owns the terminal.
type debugLog struct {
	*slog.Logger
	path string
	file *lumberjack.Logger
}

// openDebugLog points a JSON logger at a rotating file. Anything written to
// stderr while the dashboard is drawn would corrupt the screen.
func openDebugLog(path string, level slog.Leveler, rot config.LogRotationConfig) (*debugLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	logger := newLogger(file, level).With("pid", os.Getpid())
	return &debugLog{Logger: logger, path: path, file: file}, nil
}

// Close flushes and closes the file.
func (d *debugLog) Close() error {
	return d.file.Close()
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
