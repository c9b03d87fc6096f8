package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/npratt/dobi/internal/config"
	"github.com/npratt/dobi/internal/connection"
	"github.com/npratt/dobi/internal/settings"
)

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose     = "verbose"
	FlagConfig      = "config"
	FlagJSON        = "json"
	FlagBackend     = "backend"
	FlagStreamURL   = "stream-url"
	FlagPiIP        = "pi-ip"
	FlagLogFile     = "log-file"
	FlagMetricsAddr = "metrics-addr"

	// Dashboard command flags
	FlagTUI     = "tui"
	FlagConnect = "connect"

	// Watch command flags
	FlagInterval = "interval"

	// Detections command flags
	FlagCount = "count"

	// Sim command flags
	FlagAddr      = "addr"
	FlagSeed      = "seed"
	FlagAccessLog = "access-log"
)

// configKeys maps flags that override a config file setting to its key.
// Other flags bind under their own name.
var configKeys = map[string]string{
	FlagBackend:     "backend.address",
	FlagStreamURL:   "backend.stream_url",
	FlagPiIP:        "backend.pi_ip",
	FlagLogFile:     "paths.log",
	FlagMetricsAddr: "metrics.addr",
	FlagAddr:        "sim.addr",
	FlagSeed:        "sim.seed",
}

// bindFlags binds every flag in fs to v.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if k, ok := configKeys[f.Name]; ok {
			key = k
		}
		_ = v.BindPFlag(key, f)
	})
}

// resolveTarget fills the connection target from config, falling back to
// the saved settings for anything config leaves empty.
func resolveTarget(b config.BackendConfig, saved settings.Settings) connection.Target {
	t := connection.Target{
		Endpoint:  b.Address,
		StreamURL: b.StreamURL,
		PiIP:      b.PiIP,
	}
	if t.Endpoint == "" {
		t.Endpoint = saved.BackendURL
	}
	if t.StreamURL == "" {
		t.StreamURL = saved.StreamURL
	}
	if t.PiIP == "" {
		t.PiIP = saved.PiIP
	}
	return t
}
