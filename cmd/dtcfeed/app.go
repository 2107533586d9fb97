package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/dtc-feed/internal/api"
	"github.com/rickgao/dtc-feed/internal/config"
	"github.com/rickgao/dtc-feed/internal/database"
	"github.com/rickgao/dtc-feed/internal/feed"
	"github.com/rickgao/dtc-feed/internal/poller"
	"github.com/rickgao/dtc-feed/internal/quotestore"
	"github.com/rickgao/dtc-feed/internal/router"
	"github.com/rickgao/dtc-feed/internal/stream"
	"github.com/rickgao/dtc-feed/internal/telemetry"
	"github.com/rickgao/dtc-feed/internal/version"
	"github.com/rickgao/dtc-feed/internal/writer"
)

// app owns every component of a running feed.
type app struct {
	cfg    *config.FeedConfig
	logger *slog.Logger

	tel   *telemetry.Provider
	redis *redis.Client
	pool  *pgxpool.Pool
	store quotestore.Store

	feed        feed.Manager
	router      router.Router
	quoteWriter *writer.QuoteWriter
	snapWriter  *writer.SnapshotWriter
	poller      *poller.Poller
	hub         *stream.Hub
	server      *api.Server
}

// newApp connects the backends and builds every component. Nothing runs
// until start.
func newApp(ctx context.Context, cfg *config.FeedConfig, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tel = tel

	if err := a.connectBackends(ctx); err != nil {
		a.closeBackends(ctx)
		return nil, err
	}

	// Latest-quote store, mirrored to Redis when configured
	if a.redis != nil {
		rs := quotestore.NewRedis(a.redis, redisConfig(cfg.Redis), logger)
		n, err := rs.Load(ctx)
		if err != nil {
			logger.Warn("failed to warm quote store from redis", "error", err)
		} else {
			logger.Info("quote store warmed from redis", "quotes", n)
		}
		a.store = rs
	} else {
		a.store = quotestore.NewMemory()
	}

	mcfg, err := managerConfig(cfg)
	if err != nil {
		a.closeBackends(ctx)
		return nil, err
	}
	a.feed = feed.NewManager(mcfg, logger)
	a.router = router.NewRouter(routerConfig(cfg), a.feed.Events(), a.store, logger)
	buffers := a.router.Buffers()

	if a.pool != nil {
		a.quoteWriter = writer.NewQuoteWriter(writerConfig(cfg.Writer), buffers.Record, a.pool, logger)
		a.snapWriter = writer.NewSnapshotWriter(a.pool, logger)
		a.poller = poller.New(pollerConfig(cfg.Poller), a.store, a.snapWriter, logger)
	}

	if cfg.Server.Port >= 0 {
		gin.SetMode(cfg.Server.Mode)
		a.hub = stream.NewHub(stream.DefaultConfig(), buffers.Broadcast, logger)
		a.server = api.New(api.Config{Port: cfg.Server.Port}, api.Deps{
			Feed:        a.feed,
			Quotes:      a.store,
			Definitions: a.router,
			Stream:      a.hub,
			Stats:       a.stats(),
		}, tel.Tracer(), logger)
	}

	return a, nil
}

// connectBackends dials Redis and PostgreSQL concurrently.
func (a *app) connectBackends(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Redis.Addr != "" {
		g.Go(func() error {
			client, err := quotestore.NewRedisClient(gctx, redisConfig(a.cfg.Redis))
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			a.redis = client
			a.logger.Info("redis connected", "addr", a.cfg.Redis.Addr)
			return nil
		})
	}

	if a.cfg.Database.Enabled() {
		g.Go(func() error {
			db := a.cfg.Database
			pool, err := database.Connect(gctx, db, a.cfg.Instance.ID)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			a.pool = pool
			if db.EnsureSchema {
				if err := database.EnsureSchema(gctx, pool); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
			}
			a.logger.Info("database connected", "host", db.Host, "port", db.Port, "database", db.Name)
			return nil
		})
	}

	return g.Wait()
}

func (a *app) stats() map[string]api.StatsFunc {
	m := map[string]api.StatsFunc{
		"router": func() any { return a.router.Stats() },
	}
	if a.quoteWriter != nil {
		m["quote_writer"] = func() any { return a.quoteWriter.Stats() }
		m["snapshot_writer"] = func() any { return a.snapWriter.Stats() }
		m["poller"] = func() any { return a.poller.Stats() }
	}
	if a.hub != nil {
		m["stream"] = func() any { return a.hub.Stats() }
	}
	return m
}

// start runs consumers first and the feed last, so no quote is routed
// before its sinks are ready.
func (a *app) start(ctx context.Context) error {
	if err := a.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if a.quoteWriter != nil {
		if err := a.quoteWriter.Start(ctx); err != nil {
			return fmt.Errorf("start quote writer: %w", err)
		}
		if err := a.poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Start(ctx); err != nil {
			return fmt.Errorf("start stream hub: %w", err)
		}
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	if err := a.feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	return nil
}

// stop shuts components down in reverse dependency order. Sinks stop
// concurrently once the router has closed their queues.
func (a *app) stop(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	errs = append(errs, a.feed.Stop(ctx))
	errs = append(errs, a.router.Stop(ctx))

	var g errgroup.Group
	if a.quoteWriter != nil {
		g.Go(func() error { return a.quoteWriter.Stop(ctx) })
		g.Go(func() error { return a.poller.Stop(ctx) })
	}
	if a.hub != nil {
		g.Go(func() error { return a.hub.Stop(ctx) })
	}
	errs = append(errs, g.Wait())

	errs = append(errs, a.closeBackends(ctx))
	return errors.Join(errs...)
}

func (a *app) closeBackends(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// httpAddr returns the API listen address, or "" when disabled.
func (a *app) httpAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}
