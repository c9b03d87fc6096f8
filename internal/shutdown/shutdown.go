// Package shutdown runs long-lived commands until they finish or the
// process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Signals are the signals that trigger a graceful shutdown.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// ErrTimeout is returned when the runner does not return within the
// shutdown timeout after a signal.
var ErrTimeout = errors.New("shutdown timeout exceeded")

// Run starts runner and blocks until it returns or a shutdown signal
// arrives. On a signal the runner's context is cancelled, cleanup is called
// with a context bounded by timeout, and Run waits for the runner to return
// within the same bound. cleanup may be nil.
//
// A runner that returns context.Canceled after a signal is a clean exit.
func Run(
	ctx context.Context,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	cleanup func(ctx context.Context) error,
) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, Signals...)
	defer signal.Stop(sigChan)

	runDone := make(chan error, 1)
	go func() {
		runDone <- runner(runCtx)
	}()

	select {
	case err := <-runDone:
		return err

	case sig := <-sigChan:
		logger.Info("received signal, initiating shutdown", "signal", sig)
	}

	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if cleanup != nil {
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	select {
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded", "timeout", timeout)
		return ErrTimeout
	}

	logger.Info("shutdown complete")
	return nil
}

// Closer adapts a func() to the cleanup signature of Run.
func Closer(fn func()) func(context.Context) error {
	return func(context.Context) error {
		fn()
		return nil
	}
}
