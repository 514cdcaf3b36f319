// Command futarchyd is the conditional-market venue daemon. It loads and
// validates configuration, builds a logger from it, and runs the venue in
// the configured mode until a signal arrives or a loop fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/praxismarkets/futarchyd/internal/app"
	"github.com/praxismarkets/futarchyd/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating %s: %w", configPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Venue.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("futarchyd starting",
		slog.String("mode", cfg.Venue.Mode),
		slog.String("config", configPath),
	)

	venue := app.New(cfg, logger)
	defer venue.Close()

	// SIGINT and SIGTERM cancel the run context; every loop and server in
	// the app shuts down off that cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := venue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("venue exited", slog.String("error", err.Error()))
		return err
	}

	logger.Info("futarchyd stopped")
	return nil
}

// logLevel maps the configured level name onto slog. Unrecognized names
// fall back to info rather than failing the boot.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
