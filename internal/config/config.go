// Package config provides configuration types and defaults for dobi.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all configuration for dobi.
type Config struct {
	Backend     BackendConfig     `yaml:"backend" mapstructure:"backend"`
	Polling     PollingConfig     `yaml:"polling" mapstructure:"polling"`
	Analytics   AnalyticsConfig   `yaml:"analytics" mapstructure:"analytics"`
	Control     ControlConfig     `yaml:"control" mapstructure:"control"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Sim         SimConfig         `yaml:"sim" mapstructure:"sim"`

	// LoadedFrom lists the config files LoadConfig merged, lowest first.
	LoadedFrom []string `yaml:"-" mapstructure:"-" json:"loaded_from,omitempty"`
}

// BackendConfig holds the backend address and the addresses forwarded on connect.
// Empty address fields fall back to the persisted settings.
type BackendConfig struct {
	Address        string        `yaml:"address" mapstructure:"address"`       // Host, host:port or URL; port 8000 when omitted
	StreamURL      string        `yaml:"stream_url" mapstructure:"stream_url"` // Camera stream the backend should open
	PiIP           string        `yaml:"pi_ip" mapstructure:"pi_ip"`           // Robot controller address
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// PollingConfig holds the cadence intervals.
type PollingConfig struct {
	HealthInterval     time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout      time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
	DetectionsInterval time.Duration `yaml:"detections_interval" mapstructure:"detections_interval"`
	AnalyticsInterval  time.Duration `yaml:"analytics_interval" mapstructure:"analytics_interval"` // /status cadence (0 = disabled)
}

// AnalyticsConfig holds aggregator sizing.
type AnalyticsConfig struct {
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
	LogEntries int `yaml:"log_entries" mapstructure:"log_entries"` // Detection log length in the TUI
}

// ControlConfig holds motor command throttling settings.
type ControlConfig struct {
	Cooldown    time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	Deadman     time.Duration `yaml:"deadman" mapstructure:"deadman"`       // Auto-stop after this long without input (0 = disabled)
	QueueSize   int           `yaml:"queue_size" mapstructure:"queue_size"` // Pending commands before new ones are dropped
	SendTimeout time.Duration `yaml:"send_timeout" mapstructure:"send_timeout"`
}

// PathsConfig holds file paths for logs and persisted settings.
type PathsConfig struct {
	Log      string `yaml:"log" mapstructure:"log"`             // JSONL event log (empty = disabled)
	DebugLog string `yaml:"debug_log" mapstructure:"debug_log"` // Rotating debug log used in TUI mode
	Settings string `yaml:"settings" mapstructure:"settings"`   // Empty = ~/.config/dobi/settings.yaml
}

// LogRotationConfig holds settings for log file rotation.
// Used for the TUI debug log (lumberjack-based automatic rotation).
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the optional prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // e.g. ":9090" (empty = disabled)
}

// SimConfig holds settings for the simulated backend.
type SimConfig struct {
	Addr          string        `yaml:"addr" mapstructure:"addr"`
	FrameInterval time.Duration `yaml:"frame_interval" mapstructure:"frame_interval"`
	MaxObjects    int           `yaml:"max_objects" mapstructure:"max_objects"`
	Seed          int64         `yaml:"seed" mapstructure:"seed"` // 0 = time based
	CORSOrigins   []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Default returns a Config matching the original dashboard's timings.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Polling: PollingConfig{
			HealthInterval:     2 * time.Second,
			HealthTimeout:      2 * time.Second,
			DetectionsInterval: 500 * time.Millisecond,
			AnalyticsInterval:  time.Second,
		},
		Analytics: AnalyticsConfig{
			WindowSize: 20,
			LogEntries: 50,
		},
		Control: ControlConfig{
			Cooldown:    100 * time.Millisecond,
			Deadman:     600 * time.Millisecond,
			QueueSize:   16,
			SendTimeout: 2 * time.Second,
		},
		Paths: PathsConfig{
			Log:      ".dobi/events.log",
			DebugLog: ".dobi/dobi-debug.log",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Sim: SimConfig{
			Addr:          ":8000",
			FrameInterval: 33 * time.Millisecond,
			MaxObjects:    4,
			CORSOrigins:   []string{"*"},
		},
	}
}

// Validate rejects settings the live-state core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"polling.health_interval", c.Polling.HealthInterval},
		{"polling.health_timeout", c.Polling.HealthTimeout},
		{"polling.detections_interval", c.Polling.DetectionsInterval},
		{"control.cooldown", c.Control.Cooldown},
		{"control.send_timeout", c.Control.SendTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", p.name, p.d))
		}
	}
	if c.Polling.AnalyticsInterval < 0 {
		errs = append(errs, fmt.Errorf("polling.analytics_interval must not be negative, got %v", c.Polling.AnalyticsInterval))
	}
	if c.Control.Deadman < 0 {
		errs = append(errs, fmt.Errorf("control.deadman must not be negative, got %v", c.Control.Deadman))
	}
	if c.Analytics.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("analytics.window_size must be at least 1, got %d", c.Analytics.WindowSize))
	}
	if c.Analytics.LogEntries < 1 {
		errs = append(errs, fmt.Errorf("analytics.log_entries must be at least 1, got %d", c.Analytics.LogEntries))
	}
	if c.Control.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("control.queue_size must be at least 1, got %d", c.Control.QueueSize))
	}
	return errors.Join(errs...)
}
