// Command hapticbridge relays orientation from the haptic hand controller to
// WebSocket consumers, records its /gyro telemetry and forwards vibration
// requests back to the device.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/config"
)

// Build information
const (
	Version = "0.1.0"
	appName = "hapticbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Bridge failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.NewLoader().Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		logger.Debug("Effective configuration", "config", cfg.String())
		return nil
	}

	logger.Info("Starting haptic bridge", "config_path", cli.ConfigPath)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(cfg, logger)
	if err := app.Start(signalCtx, cli.ShutdownTimeout); err != nil {
		_ = app.Stop(cli.ShutdownTimeout)
		return err
	}

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	start := time.Now()
	if err := app.Stop(cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete", "duration", time.Since(start))
	return nil
}
