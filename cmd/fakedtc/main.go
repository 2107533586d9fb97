// fakedtc runs a local DTC server that streams simulated quotes for every
// symbol a client subscribes to. It accepts any credentials.
// Usage: go run ./cmd/fakedtc --addr 127.0.0.1:11099 --interval 250ms
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/dtc/dtctest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:11099", "listen address")
	encoding := flag.String("encoding", "binary", "encoding to answer with: binary or json")
	interval := flag.Duration("interval", 250*time.Millisecond, "update interval per symbol")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	enc, err := dtc.ParseEncoding(*encoding)
	if err != nil {
		logger.Error("invalid encoding", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sim := newSimulator(logger, time.Now().UnixNano())

	srv, err := dtctest.NewServer(*addr,
		dtctest.WithEncoding(enc),
		dtctest.WithHandler(sim.handle),
		dtctest.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to listen", "addr", *addr, "error", err)
		os.Exit(1)
	}

	logger.Info("fake dtc server listening", "addr", srv.Addr(), "encoding", enc, "interval", *interval)

	go sim.run(ctx, *interval)

	<-ctx.Done()
	srv.Close()
	logger.Info("fake dtc server stopped")
}
