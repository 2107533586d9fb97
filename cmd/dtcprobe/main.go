// dtcprobe connects to a DTC server and prints quotes to the console.
// Usage: go run ./cmd/dtcprobe --symbols CME:ESZ6,CME:NQZ6 [--config configs/dtcfeed.yaml]
//
// Connection settings come from the config file when given, otherwise from
// DTC_HOST, DTC_PORT, DTC_USERNAME and DTC_PASSWORD.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/dtc-feed/internal/config"
	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/feed"
	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
	"github.com/rickgao/dtc-feed/internal/router"
	"github.com/rickgao/dtc-feed/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	symbols := flag.String("symbols", "", "comma separated EXCHANGE:SYMBOL list (default: config subscriptions)")
	encoding := flag.String("encoding", "", "override dtc encoding: binary or json")
	defs := flag.Bool("defs", false, "request a security definition for each symbol")
	verbose := flag.Bool("verbose", false, "print full quote JSON")
	flag.Parse()

	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *encoding != "" {
		cfg.DTC.Encoding = *encoding
	}

	instruments := parseInstruments(*symbols)
	if len(instruments) == 0 {
		for _, s := range cfg.Subscriptions {
			instruments = append(instruments, feed.Instrument{Symbol: s.Symbol, Exchange: s.Exchange})
		}
	}
	if len(instruments) == 0 {
		logger.Error("no symbols given; use --symbols or config subscriptions")
		os.Exit(1)
	}

	enc, err := dtc.ParseEncoding(cfg.DTC.Encoding)
	if err != nil {
		logger.Error("invalid encoding", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mcfg := feed.DefaultManagerConfig()
	mcfg.Session = session.Config{
		Host:              cfg.DTC.Host,
		Port:              cfg.DTC.Port,
		Username:          cfg.DTC.Username,
		Password:          cfg.DTC.Password,
		Encoding:          enc,
		ClientName:        "dtcprobe",
		HeartbeatInterval: cfg.DTC.HeartbeatInterval,
		HeartbeatTimeout:  cfg.DTC.HeartbeatTimeout,
		ConnectTimeout:    cfg.DTC.ConnectTimeout,
	}
	mcfg.Subscriptions = instruments

	feedMgr := feed.NewManager(mcfg, logger)

	// Router without a store; the probe only reads the broadcast buffer.
	rtr := router.NewRouter(router.RouterConfig{
		RecordBufferSize:    1,
		BroadcastBufferSize: 1000,
		BroadcastLimit:      10000,
		DisableRecord:       true,
	}, feedMgr.Events(), nil, logger)

	logger.Info("starting router")
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting", "host", cfg.DTC.Host, "port", cfg.DTC.Port, "encoding", enc, "symbols", len(instruments))
	if err := feedMgr.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}

	go printQuotes(ctx, rtr.Buffers().Broadcast, os.Stdout, *verbose)

	if *defs {
		go requestDefinitions(ctx, feedMgr, instruments, logger)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := feedMgr.Status()
				rs := rtr.Stats()
				logger.Info("stats",
					"state", st.State,
					"sessions", st.Sessions,
					"reconnect_attempts", st.ReconnectAttempts,
					"router_received", rs.EventsReceived,
					"quotes_routed", rs.QuotesRouted,
					"rejects", rs.Rejects,
					"errors", rs.Errors,
					"broadcast_dropped", rs.BroadcastBuf.Dropped,
				)
				for _, d := range rtr.Definitions() {
					fmt.Printf("[DEFINITION] %s %q\n", model.InstrumentKey(d.Symbol, d.Exchange), d.Description)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	feedMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func loadConfig(path string) (*config.FeedConfig, error) {
	if path != "" {
		return config.LoadWithDefaults(path)
	}
	return config.FromEnv()
}

// parseInstruments splits "CME:ESZ6,NQZ6" into instruments. An entry with
// no colon has no exchange.
func parseInstruments(s string) []feed.Instrument {
	var out []feed.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exchange, symbol, ok := strings.Cut(part, ":")
		if !ok {
			exchange, symbol = "", part
		}
		if symbol == "" {
			continue
		}
		out = append(out, feed.Instrument{Symbol: symbol, Exchange: exchange})
	}
	return out
}

// formatQuote renders one console line.
func formatQuote(q model.Quote, verbose bool) string {
	if verbose {
		data, _ := json.MarshalIndent(q, "", "  ")
		return fmt.Sprintf("[%s] %s", strings.ToUpper(q.Kind), data)
	}
	return fmt.Sprintf("[%s] %s last=%g bid=%g ask=%g spread=%g vol=%g",
		strings.ToUpper(q.Kind), q.Key(), q.Last, q.Bid, q.Ask, q.Spread(), q.Volume)
}

func printQuotes(ctx context.Context, buf *queue.Queue[model.Quote], w io.Writer, verbose bool) {
	for {
		q, err := buf.Pop(ctx)
		if err != nil {
			return
		}
		fmt.Fprintln(w, formatQuote(q, verbose))
	}
}

// requestDefinitions waits for the feed to connect, then asks for each
// instrument's definition once.
func requestDefinitions(ctx context.Context, m feed.Manager, instruments []feed.Instrument, logger *slog.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !m.Status().Connected {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	for _, in := range instruments {
		id, err := m.RequestSecurityDefinition(ctx, in.Symbol, in.Exchange)
		if err != nil {
			logger.Warn("security definition request failed", "symbol", in.Symbol, "error", err)
			continue
		}
		logger.Debug("security definition requested", "symbol", in.Symbol, "request_id", id)
	}
}
