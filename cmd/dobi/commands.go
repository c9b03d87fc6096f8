package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/dobi/internal/aggregator"
	"github.com/npratt/dobi/internal/backend"
	"github.com/npratt/dobi/internal/config"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/dashboard"
	"github.com/npratt/dobi/internal/events"
	"github.com/npratt/dobi/internal/settings"
)

type envLoader func() (*env, error)

// printJSON writes v indented, for --json output.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// withRequest runs fn with a client and a context bounded by the request timeout.
func withRequest(cmd *cobra.Command, load envLoader, fn func(ctx context.Context, e *env, c *backend.HTTPClient) error) error {
	e, err := load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.ConnectTimeout)
	defer cancel()
	return fn(ctx, e, e.client())
}

// backendCommands are the one-shot commands that call a single endpoint.
func backendCommands(load envLoader) []*cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Ask the backend to open the stream and reach the robot",
		Long: `Ask the backend to open the camera stream and reach the robot.

The stream URL and robot address come from flags, config or the saved
settings. They are saved on success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				resp, err := c.Connect(ctx, backend.ConnectRequest{StreamURL: e.target.StreamURL, PiIP: e.target.PiIP})
				if err != nil {
					var he *backend.HandshakeError
					if errors.As(err, &he) && he.Message != "" {
						return fmt.Errorf("connect failed: %s", he.Message)
					}
					return err
				}

				if _, err := e.store.Update(func(s *settings.Settings) error {
					s.BackendURL = e.target.Endpoint
					s.StreamURL = e.target.StreamURL
					s.PiIP = e.target.PiIP
					return nil
				}); err != nil {
					fmt.Fprintf(os.Stderr, "warning: settings not saved: %v\n", err)
				}

				if viper.GetBool(FlagJSON) {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", c.BaseURL())
				if resp.Message != "" {
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				}
				return nil
			})
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Ask the backend to release the stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				if err := c.Disconnect(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Disconnected from %s\n", c.BaseURL())
				return nil
			})
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure backend health latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				d, err := c.Ping(ctx)
				latency := dashboard.LatencyUnavailable
				if err == nil {
					latency = dashboard.LatencyFromDuration(d)
				}
				if viper.GetBool(FlagJSON) {
					if perr := printJSON(cmd.OutOrStdout(), map[string]int64{"latency_ms": int64(latency)}); perr != nil {
						return perr
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "latency: %s\n", latency)
				}
				return err
			})
		},
	}

	detectionsCmd := &cobra.Command{
		Use:   "detections",
		Short: "Fetch detections, or sample several batches and summarize",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			n := viper.GetInt(FlagCount)
			if n < 1 {
				n = 1
			}
			state, err := sampleDetections(cmd.Context(), e.client(), n, e.cfg.Polling.DetectionsInterval, e.cfg.Analytics.WindowSize)
			if err != nil {
				return err
			}
			if viper.GetBool(FlagJSON) {
				return printJSON(cmd.OutOrStdout(), state.Latest)
			}
			printDetections(cmd.OutOrStdout(), state, n)
			return nil
		},
	}
	detectionsCmd.Flags().Int(FlagCount, 1, "Number of batches to sample")
	bindFlags(viper.GetViper(), detectionsCmd.Flags())

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				status, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool(FlagJSON) {
					return printJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}

	piTestCmd := &cobra.Command{
		Use:   "pi-test",
		Short: "Check that the backend can reach the robot controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				if err := c.TestPi(ctx); err != nil {
					return fmt.Errorf("robot unreachable: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Robot reachable")
				return nil
			})
		},
	}

	moveCmd := &cobra.Command{
		Use:       "move <forward|backward|left|right|stop>",
		Short:     "Send one motor command",
		Args:      cobra.ExactArgs(1),
		ValidArgs: directionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := backend.ParseDirection(args[0])
			if err != nil {
				return err
			}
			return withRequest(cmd, load, func(ctx context.Context, e *env, c *backend.HTTPClient) error {
				if err := c.Move(ctx, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", dir)
				return nil
			})
		},
	}

	videoURLCmd := &cobra.Command{
		Use:   "video-url",
		Short: "Print the MJPEG stream URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.client().VideoURL())
			return nil
		},
	}

	return []*cobra.Command{connectCmd, disconnectCmd, pingCmd, detectionsCmd, statusCmd, piTestCmd, moveCmd, videoURLCmd}
}

// settingsCommand groups get, set and path for the saved target.
func settingsCommand(load envLoader) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the saved connection settings",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the saved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			s, err := e.store.Load()
			if err != nil {
				return err
			}
			if viper.GetBool(FlagJSON) {
				return printJSON(cmd.OutOrStdout(), s)
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Change one saved setting (" + strings.Join(settings.Fields, ", ") + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			s, err := e.store.Update(func(s *settings.Settings) error {
				return s.Set(args[0], args[1])
			})
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.store.Path())
			return nil
		},
	}

	settingsCmd.AddCommand(getCmd, setCmd, pathCmd)
	return settingsCmd
}

// configCommand shows which files were merged and the values in effect.
func configCommand(load envLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and where it came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			if viper.GetBool(FlagJSON) {
				return printJSON(cmd.OutOrStdout(), e.cfg)
			}
			printConfig(cmd.OutOrStdout(), e.cfg, e.target)
			return nil
		},
	}
}

// sampleDetections fetches n batches interval apart and folds them into a
// fresh aggregator state.
func sampleDetections(ctx context.Context, c backend.Client, n int, interval time.Duration, windowSize int) (aggregator.State, error) {
	state := aggregator.NewState(windowSize)
	for i := range n {
		if i > 0 {
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-time.After(interval):
			}
		}
		resp, err := c.Detections(ctx)
		if err != nil {
			return state, fmt.Errorf("fetch detections: %w", err)
		}
		state = aggregator.Step(state, aggregator.Batch{Detections: resp.Detections, Timestamp: resp.Timestamp}, time.Now())
	}
	return state, nil
}

func printDetections(w io.Writer, state aggregator.State, batches int) {
	if len(state.Latest.Detections) == 0 {
		fmt.Fprintln(w, "No detections")
	}
	for _, d := range state.Latest.Detections {
		line := fmt.Sprintf("%-12s %3.0f%%", events.SafeString(d.Label), d.Confidence*100)
		if d.IsPerson() && d.PPEStatus != backend.PPENone {
			line += "  " + string(d.PPEStatus)
		}
		fmt.Fprintln(w, line)
	}
	if batches > 1 {
		s := state.Stats
		fmt.Fprintf(w, "\n%d batches, %d detections, avg confidence %.1f%%, PPE compliance %.1f%%\n",
			s.Ticks, s.TotalDetections, s.AvgConfidence*100, s.PPECompliance)
	}
}

func printStatus(w io.Writer, s *backend.Status) {
	fmt.Fprintf(w, "Running: %t\n", s.Running)
	fmt.Fprintf(w, "Stream: %s\n", s.StreamURL)
	fmt.Fprintf(w, "Robot: %s\n", s.PiIP)
	fmt.Fprintf(w, "Frames: %d (has frame: %t)\n", s.FrameCount, s.HasFrame)
	fmt.Fprintf(w, "Detections: %d\n", s.DetectionCount)
	fmt.Fprintf(w, "Model loaded: %t\n", s.ModelLoaded)
	if s.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", s.LastError)
	}
}

func printConfig(w io.Writer, cfg *config.Config, target connection.Target) {
	if len(cfg.LoadedFrom) == 0 {
		fmt.Fprintln(w, "Files: none (defaults)")
	} else {
		fmt.Fprintf(w, "Files: %s\n", strings.Join(cfg.LoadedFrom, ", "))
	}
	fmt.Fprintf(w, "Backend: %s\n", target.Endpoint)
	fmt.Fprintf(w, "Stream: %s\n", target.StreamURL)
	fmt.Fprintf(w, "Robot: %s\n", target.PiIP)
	fmt.Fprintf(w, "Polling: health %s, detections %s, analytics %s\n",
		cfg.Polling.HealthInterval, cfg.Polling.DetectionsInterval, cfg.Polling.AnalyticsInterval)
	fmt.Fprintf(w, "Control: cooldown %s\n", cfg.Control.Cooldown)
	fmt.Fprintf(w, "Settings: %s\n", cfg.Paths.Settings)
	if cfg.Paths.Log != "" {
		fmt.Fprintf(w, "Event log: %s\n", cfg.Paths.Log)
	}
	if cfg.Metrics.Addr != "" {
		fmt.Fprintf(w, "Metrics: %s\n", cfg.Metrics.Addr)
	}
}

func printSettings(w io.Writer, s settings.Settings) {
	fmt.Fprintf(w, "streamUrl:  %s\n", s.StreamURL)
	fmt.Fprintf(w, "piIp:       %s\n", s.PiIP)
	fmt.Fprintf(w, "backendUrl: %s\n", s.BackendURL)
}

func directionNames() []string {
	names := make([]string, len(backend.Directions))
	for i, d := range backend.Directions {
		names[i] = string(d)
	}
	return names
}
