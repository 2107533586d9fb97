package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Server is the HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	tracer trace.Tracer
	logger *slog.Logger
	engine *gin.Engine

	srv *http.Server
	ln  net.Listener
}

// New builds the server and its routes. A nil tracer disables spans.
func New(cfg Config, deps Deps, tracer trace.Tracer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("api")
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		tracer: tracer,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger(), s.traceRequests())
	s.registerRoutes(s.engine)
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/status", s.status)

	r.GET("/subscriptions", s.listSubscriptions)
	r.POST("/subscriptions", s.addSubscription)
	r.DELETE("/subscriptions/:symbol", s.removeSubscription)

	r.GET("/quotes", s.listQuotes)
	r.GET("/quotes/:symbol", s.getQuote)

	r.GET("/definitions", s.listDefinitions)
	r.POST("/definitions", s.requestDefinition)

	if s.deps.Stream != nil {
		r.GET("/ws", gin.WrapH(s.deps.Stream))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "err", err)
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// requestLogger logs each request at debug level, and errors at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}

// traceRequests opens one span per request.
func (s *Server) traceRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
	}
}
