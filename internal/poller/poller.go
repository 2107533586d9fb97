package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/dtc-feed/internal/model"
)

// QuoteSource provides the latest quotes to snapshot.
type QuoteSource interface {
	All(ctx context.Context) []model.Quote
}

// SnapshotSink receives snapshot chunks.
type SnapshotSink interface {
	Write(ctx context.Context, snaps []model.QuoteSnapshot) error
}

// SnapshotSinkFunc is a function adapter for SnapshotSink.
type SnapshotSinkFunc func(context.Context, []model.QuoteSnapshot) error

func (f SnapshotSinkFunc) Write(ctx context.Context, snaps []model.QuoteSnapshot) error {
	return f(ctx, snaps)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	Concurrency int           // Max concurrent chunk writes (default: 4)
	ChunkSize   int           // Snapshots per write (default: 500)
	Timeout     time.Duration // Per-cycle timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 4,
		ChunkSize:   500,
		Timeout:     30 * time.Second,
	}
}

// Stats holds poller counters.
type Stats struct {
	Cycles    int64 `json:"cycles"`
	Snapshots int64 `json:"snapshots"`
	Errors    int64 `json:"errors"`
	LastCycle int64 `json:"last_cycle"` // µs since epoch, 0 before the first cycle
}

// Poller periodically snapshots the quote store.
type Poller struct {
	cfg    Config
	source QuoteSource
	sink   SnapshotSink
	logger *slog.Logger
	now    func() time.Time

	cycles    atomic.Int64
	snapshots atomic.Int64
	errors    atomic.Int64
	lastCycle atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source QuoteSource, sink SnapshotSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the polling loop. The first cycle runs after one interval.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Snapshots: p.snapshots.Load(),
		Errors:    p.errors.Load(),
		LastCycle: p.lastCycle.Load(),
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			if _, err := p.Poll(cycleCtx); err != nil && ctx.Err() == nil {
				p.logger.Warn("snapshot cycle failed", "err", err)
			}
			cancel()
		}
	}
}

// Poll takes one snapshot of every quote in the source and writes it.
// It returns the number of snapshots written.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	start := p.now()
	ts := start.UnixMicro()

	quotes := p.source.All(ctx)
	p.cycles.Add(1)
	p.lastCycle.Store(ts)
	if len(quotes) == 0 {
		p.logger.Debug("no quotes to snapshot")
		return 0, nil
	}

	snaps := make([]model.QuoteSnapshot, len(quotes))
	for i, q := range quotes {
		snaps[i] = model.QuoteSnapshot{SnapshotTS: ts, Quote: q}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var written atomic.Int64
	for _, chunk := range chunks(snaps, p.cfg.ChunkSize) {
		g.Go(func() error {
			if err := p.sink.Write(gctx, chunk); err != nil {
				p.errors.Add(1)
				return err
			}
			written.Add(int64(len(chunk)))
			return nil
		})
	}
	err := g.Wait()

	n := int(written.Load())
	p.snapshots.Add(int64(n))

	p.logger.Info("snapshot cycle complete",
		"quotes", len(quotes),
		"written", n,
		"duration", time.Since(start),
	)

	return n, err
}

func chunks(snaps []model.QuoteSnapshot, size int) [][]model.QuoteSnapshot {
	var out [][]model.QuoteSnapshot
	for len(snaps) > size {
		out = append(out, snaps[:size:size])
		snaps = snaps[size:]
	}
	if len(snaps) > 0 {
		out = append(out, snaps)
	}
	return out
}
