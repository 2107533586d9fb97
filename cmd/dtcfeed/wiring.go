package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rickgao/dtc-feed/internal/config"
	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/feed"
	"github.com/rickgao/dtc-feed/internal/poller"
	"github.com/rickgao/dtc-feed/internal/quotestore"
	"github.com/rickgao/dtc-feed/internal/router"
	"github.com/rickgao/dtc-feed/internal/session"
	"github.com/rickgao/dtc-feed/internal/writer"
)

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func sessionConfig(cfg config.DTCConfig) (session.Config, error) {
	enc, err := dtc.ParseEncoding(cfg.Encoding)
	if err != nil {
		return session.Config{}, fmt.Errorf("dtc.encoding: %w", err)
	}
	return session.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Username:          cfg.Username,
		Password:          cfg.Password,
		Encoding:          enc,
		ClientName:        cfg.ClientName,
		TradeMode:         uint8(cfg.TradeMode),
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		ConnectTimeout:    cfg.ConnectTimeout,
		HandshakeGrace:    cfg.HandshakeGrace,
		WriteTimeout:      cfg.WriteTimeout,
		MaxFrameSize:      cfg.MaxFrameSize,
		EventBufferSize:   cfg.EventBufferSize,
	}, nil
}

func managerConfig(cfg *config.FeedConfig) (feed.ManagerConfig, error) {
	sc, err := sessionConfig(cfg.DTC)
	if err != nil {
		return feed.ManagerConfig{}, err
	}
	subs := make([]feed.Instrument, 0, len(cfg.Subscriptions))
	for _, s := range cfg.Subscriptions {
		subs = append(subs, feed.Instrument{Symbol: s.Symbol, Exchange: s.Exchange})
	}
	return feed.ManagerConfig{
		Session:            sc,
		Subscriptions:      subs,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		OutputBufferSize:   cfg.Feed.OutputBufferSize,
		SubscribeTimeout:   cfg.Feed.SubscribeTimeout,
	}, nil
}

func routerConfig(cfg *config.FeedConfig) router.RouterConfig {
	limit := cfg.Router.BroadcastLimit
	if limit < 0 {
		limit = 0
	}
	return router.RouterConfig{
		RecordBufferSize:    cfg.Router.RecordBufferSize,
		BroadcastBufferSize: cfg.Router.BroadcastBufferSize,
		BroadcastLimit:      limit,
		DisableRecord:       !cfg.Database.Enabled(),
	}
}

func redisConfig(cfg config.RedisConfig) quotestore.RedisConfig {
	return quotestore.RedisConfig{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		Channel:   cfg.Channel,
	}
}

func writerConfig(cfg config.WriterConfig) writer.WriterConfig {
	return writer.WriterConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}
}

func pollerConfig(cfg config.PollerConfig) poller.Config {
	return poller.Config{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		ChunkSize:   cfg.ChunkSize,
	}
}
