// Package config loads environment-first configuration (optionally from
// a .env file), and builds the zerolog logger each CLI subcommand uses.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the handful of settings every subcommand reads.
type Config struct {
	LogLevel string
	Headless bool
	DataDir  string
}

// Load reads a .env file if present (a missing file is not an error),
// then layers env vars over sane defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: "info",
		Headless: true,
		DataDir:  ".percept",
	}
	if v := strings.TrimSpace(os.Getenv("PERCEPT_LOG")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("PERCEPT_HEADLESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("PERCEPT_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	return cfg
}

// NewLogger builds a component logger. console selects a
// human-readable ConsoleWriter to stderr (interactive CLI use); when
// false it emits plain JSON to stderr so stdout stays free for protocol
// framing (mcp/mcp-http server modes).
func NewLogger(cfg *Config, component string, console bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var base zerolog.Logger
	if console {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		base = zerolog.New(os.Stderr)
	}
	return base.Level(level).With().Timestamp().Str("comp", component).Logger()
}
