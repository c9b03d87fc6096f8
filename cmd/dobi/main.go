package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/backendsim"
	"github.com/npratt/dobi/internal/config"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/dashboard"
	"github.com/npratt/dobi/internal/events"
	"github.com/npratt/dobi/internal/settings"
	"github.com/npratt/dobi/internal/shutdown"
	"github.com/npratt/dobi/internal/tui"
)

var version = "dev"

// tuiEventBuffer is the TUI subscription size. Detections arrive twice a
// second, so this covers several minutes of a stalled renderer.
const tuiEventBuffer = 1000

// env is what every command needs after flags and files are resolved.
type env struct {
	cfg    *config.Config
	store  *settings.Store
	target connection.Target
}

// client returns a backend client for the resolved target.
func (e *env) client() *backend.HTTPClient {
	return backend.NewHTTPClient(e.target.Endpoint,
		backend.WithTimeout(e.cfg.Backend.RequestTimeout),
		backend.WithHealthTimeout(e.cfg.Polling.HealthTimeout),
	)
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := newLogger(os.Stderr, logLevel)

	viper.SetEnvPrefix("DOBI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// loadEnv resolves config and the saved target. Called at the start of
	// every command that talks to a backend.
	loadEnv := func() (*env, error) {
		if viper.GetBool(FlagVerbose) {
			logLevel.Set(slog.LevelDebug)
			logger.Debug("verbose logging enabled")
		}

		cfg, err := config.LoadConfig(viper.GetViper())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}

		store := settings.NewStore(cfg.Paths.Settings)
		saved, err := store.Load()
		if err != nil {
			logger.Warn("settings unreadable, using defaults", "path", store.Path(), "error", err)
		}

		return &env{cfg: cfg, store: store, target: resolveTarget(cfg.Backend, saved)}, nil
	}

	rootCmd := &cobra.Command{
		Use:   "dobi",
		Short: "Detection and motor control dashboard for a camera robot",
		Long: `dobi watches a robot's detection backend and drives its motors.

The dashboard connects to the backend, which opens the camera stream and
reaches the robot controller. While connected it polls health, detections
and backend status, keeps rolling statistics for the session and forwards
throttled motor commands from the keyboard.`,
		SilenceUsage: true,
	}

	// Persistent flags available to all commands
	pf := rootCmd.PersistentFlags()
	pf.Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	pf.String(FlagConfig, "", "Config file path (default: .dobi/config.yaml)")
	pf.Bool(FlagJSON, false, "Output as JSON where supported")
	pf.String(FlagBackend, "", "Backend address: host, host:port or URL (default: saved setting)")
	pf.String(FlagStreamURL, "", "Camera stream URL forwarded on connect (default: saved setting)")
	pf.String(FlagPiIP, "", "Robot controller address forwarded on connect (default: saved setting)")
	pf.String(FlagLogFile, "", "JSONL event log path (default: .dobi/events.log)")
	pf.String(FlagMetricsAddr, "", "Serve prometheus metrics on this address (e.g. :9090)")
	bindFlags(viper.GetViper(), pf)

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dobi %s\n", version)
		},
	}

	// Dashboard command
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run the live dashboard",
		Long: `Run the live dashboard.

With a terminal the interactive dashboard is shown; otherwise the command
behaves like watch. Use --connect to attach on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			// Determine TUI mode: explicit flag > auto-detect from TTY
			tuiEnabled := viper.GetBool(FlagTUI)
			if !cmd.Flags().Changed(FlagTUI) {
				tuiEnabled = term.IsTerminal(int(os.Stdout.Fd()))
			}
			if !tuiEnabled {
				return runWatch(cmd.Context(), e, logger, dashboard.DefaultWatchInterval)
			}

			// TUI mode: redirect logger to file before creating the dashboard
			tuiLog, err := openDebugLog(e.cfg.Paths.DebugLog, logLevel, e.cfg.LogRotation)
			if err != nil {
				return err
			}
			defer func() { _ = tuiLog.Close() }()
			slog.SetDefault(tuiLog.Logger)

			rt, err := startRuntime(cmd.Context(), e, tuiLog.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			tuiEvents := rt.router.SubscribeBuffered(tuiEventBuffer)
			defer rt.router.Unsubscribe(tuiEvents)

			if viper.GetBool(FlagConnect) {
				go func() {
					ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.ConnectTimeout)
					defer cancel()
					if err := rt.dash.Connect(ctx, e.target); err != nil {
						tuiLog.Warn("initial connect failed", "error", err)
					}
				}()
			}

			app := tui.New(rt.dash, tuiEvents,
				tui.WithOnQuit(rt.dash.Disconnect),
				tui.WithLogEntries(e.cfg.Analytics.LogEntries),
			)
			return app.Run()
		},
	}
	dashboardCmd.Flags().Bool(FlagTUI, false, "Force the terminal UI on or off")
	dashboardCmd.Flags().Bool(FlagConnect, false, "Connect to the backend on start")
	bindFlags(viper.GetViper(), dashboardCmd.Flags())

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect and print events and periodic summaries without a UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), e, logger, viper.GetDuration(FlagInterval))
		},
	}
	watchCmd.Flags().Duration(FlagInterval, dashboard.DefaultWatchInterval, "Summary interval")
	bindFlags(viper.GetViper(), watchCmd.Flags())

	// Sim command
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated backend with synthetic detections",
		Long: `Run a simulated backend.

The simulator serves the same REST and MJPEG contract as the real backend,
so the dashboard can be exercised without a camera, model or robot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			opts := backendsim.Options{
				FrameInterval: e.cfg.Sim.FrameInterval,
				MaxObjects:    e.cfg.Sim.MaxObjects,
				Seed:          uint64(e.cfg.Sim.Seed),
				CORSOrigins:   e.cfg.Sim.CORSOrigins,
				Logger:        logger,
			}
			if viper.GetBool(FlagAccessLog) {
				opts.AccessLog = os.Stdout
			}
			sim := backendsim.New(opts)

			return shutdown.Run(cmd.Context(), logger, 5*time.Second,
				func(ctx context.Context) error {
					return sim.ListenAndServe(ctx, e.cfg.Sim.Addr)
				}, nil)
		},
	}
	simCmd.Flags().String(FlagAddr, "", "Listen address (default :8000)")
	simCmd.Flags().Int64(FlagSeed, 0, "Random seed for synthetic detections (0 = time based)")
	simCmd.Flags().Bool(FlagAccessLog, false, "Print an access log line per request")
	bindFlags(viper.GetViper(), simCmd.Flags())

	// Register all commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(backendCommands(loadEnv)...)
	rootCmd.AddCommand(settingsCommand(loadEnv))
	rootCmd.AddCommand(configCommand(loadEnv))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// live is a dashboard plus the sinks and listeners around it.
type live struct {
	dash    *dashboard.Dashboard
	router  *events.Router
	logSink *events.LogSink
	cancel  context.CancelFunc
}

// startRuntime builds the dashboard, starts the event log and, when
// configured, the metrics listener.
func startRuntime(ctx context.Context, e *env, logger *slog.Logger) (*live, error) {
	router := events.NewRouter(events.DefaultBufferSize, logger)
	rtCtx, cancel := context.WithCancel(ctx)

	rt := &live{router: router, cancel: cancel}

	if e.cfg.Paths.Log != "" {
		rot := e.cfg.LogRotation
		rt.logSink = events.NewLogSink(e.cfg.Paths.Log, logger, events.WithRotation(events.Rotation{
			MaxSizeMB:  rot.MaxSizeMB,
			MaxBackups: rot.MaxBackups,
			MaxAgeDays: rot.MaxAgeDays,
			Compress:   rot.Compress,
		}))
		if err := rt.logSink.Start(rtCtx, router.Subscribe()); err != nil {
			cancel()
			router.Close()
			return nil, fmt.Errorf("start log sink: %w", err)
		}
	}

	rt.dash = dashboard.New(dashboard.Options{
		Config:   e.cfg,
		Target:   e.target,
		Settings: e.store,
		Router:   router,
		Logger:   logger,
	})

	if addr := e.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := rt.dash.Metrics().Serve(rtCtx, addr, logger); err != nil {
				logger.Error("metrics server error", "addr", addr, "error", err)
			}
		}()
	}

	return rt, nil
}

// Close disconnects and releases everything startRuntime created.
func (rt *live) Close() {
	rt.dash.Close()
	rt.cancel()
	rt.router.Close()
	if rt.logSink != nil {
		_ = rt.logSink.Stop()
	}
}

// runWatch connects and prints until interrupted.
func runWatch(ctx context.Context, e *env, logger *slog.Logger, interval time.Duration) error {
	rt, err := startRuntime(ctx, e, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	evs := rt.router.Subscribe(dashboard.WatchedEvents...)

	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.Backend.ConnectTimeout)
	err = rt.dash.Connect(connectCtx, e.target)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", e.target.Endpoint, err)
	}

	w := dashboard.NewWatcher(rt.dash, os.Stdout, interval)
	return shutdown.Run(ctx, logger, 10*time.Second,
		func(runCtx context.Context) error {
			return w.Run(runCtx, evs)
		},
		shutdown.Closer(rt.dash.Disconnect),
	)
}
