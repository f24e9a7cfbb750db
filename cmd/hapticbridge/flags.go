package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// parseFlags parses args (without the program name). Flags fall back to
// HAPTICBRIDGE_* environment variables; an empty log level or format means
// "use the configuration file".
func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		os.Getenv("HAPTICBRIDGE_CONFIG"),
		"Path to a .json/.jsonc/.yaml/.toml configuration file (env: HAPTICBRIDGE_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: HAPTICBRIDGE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: HAPTICBRIDGE_LOG_FORMAT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration("HAPTICBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: HAPTICBRIDGE_SHUTDOWN_TIMEOUT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, `%s - haptic hand controller bridge

Usage: %s [options]

Options:
`, appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(stderr, `
Examples:
  # Run with defaults (device at 192.168.1.118:50001)
  %[1]s

  # Run with a config file and debug logging
  %[1]s --config=bridge.yaml --log-level=debug

  # Point at another device without a file
  HAPTICBRIDGE_OUTBOUND_HOST=10.0.0.7 %[1]s

  # Check a config file
  %[1]s -c bridge.toml --validate
`, appName)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return cfg, nil
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
