// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel = "STORYFRAME_LOG_LEVEL"
	EnvLogJSON  = "STORYFRAME_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options tweak Configure for a caller that owns the terminal (the TUI).
type Options struct {
	Output io.Writer
	Level  string
}

var configureOnce sync.Once

func ConfigureRuntime(opts Options) zerolog.Logger {
	return Configure(ProfileRuntime, opts)
}

func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest, Options{})
}

// Configure installs the global logger once and returns it. Later calls
// return the logger installed by the first one.
func Configure(profile Profile, opts Options) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		if lvl, ok := parseLevel(opts.Level); ok {
			cfg.level = lvl
		}
		if opts.Output != nil {
			cfg.out = opts.Output
		}
		applyEnvOverrides(&cfg)

		zerolog.SetGlobalLevel(cfg.level)
		zerolog.DurationFieldUnit = time.Millisecond
		out := cfg.out
		if !cfg.json {
			out = zerolog.ConsoleWriter{Out: cfg.out, TimeFormat: time.Kitchen, NoColor: cfg.out != os.Stderr}
		}
		ctx := zerolog.New(out).With()
		if cfg.timestamp {
			ctx = ctx.Timestamp()
		}
		log.Logger = ctx.Logger()
	})
	return log.Logger
}

type config struct {
	level     zerolog.Level
	timestamp bool
	json      bool
	out       io.Writer
}

func defaultConfig(profile Profile) config {
	switch profile {
	case ProfileTest:
		return config{level: zerolog.DebugLevel, out: os.Stderr}
	default:
		return config{level: zerolog.InfoLevel, timestamp: true, out: os.Stderr}
	}
}

func applyEnvOverrides(cfg *config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.level = lvl
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogJSON))); err == nil {
		cfg.json = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
