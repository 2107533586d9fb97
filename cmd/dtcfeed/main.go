// dtcfeed keeps a DTC market data session alive and fans its quotes out to
// Redis, PostgreSQL, an HTTP API and WebSocket clients.
//
// Usage: go run ./cmd/dtcfeed --config configs/dtcfeed.yaml
//
// Without --config the DTC_HOST, DTC_PORT, DTC_USERNAME and DTC_PASSWORD
// environment variables and built-in defaults are used. A .env file in the
// working directory is loaded first if present.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/dtc-feed/internal/config"
	"github.com/rickgao/dtc-feed/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting dtcfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if err := a.start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		a.stop(context.Background())
		os.Exit(1)
	}

	logger.Info("dtcfeed running",
		"dtc", cfg.DTC.Host,
		"subscriptions", len(cfg.Subscriptions),
		"http_addr", a.httpAddr(),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}

	logger.Info("dtcfeed stopped")
}

// loadConfig reads and validates the config file, or builds one from the
// environment when path is empty.
func loadConfig(path string) (*config.FeedConfig, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
