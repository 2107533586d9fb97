package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/dtc-feed/internal/model"
)

const insertSnapshotSQL = `
	INSERT INTO quote_snapshots (snapshot_ts, received_at, symbol, exchange, last, bid, ask, spread, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (snapshot_ts, symbol, exchange) DO NOTHING
`

// SnapshotWriter writes poller snapshots to the quote_snapshots table.
// Unlike QuoteWriter it has no input buffer: each Write is one batch.
type SnapshotWriter struct {
	db     Batcher
	logger *slog.Logger

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewSnapshotWriter creates a new SnapshotWriter.
func NewSnapshotWriter(db Batcher, logger *slog.Logger) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWriter{db: db, logger: logger}
}

// Write inserts snapshots in one batch.
func (w *SnapshotWriter) Write(ctx context.Context, snaps []model.QuoteSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if w.db == nil {
		return errNoDatabase
	}

	start := time.Now()
	batch := &pgx.Batch{}
	for _, s := range snaps {
		r := transformSnapshot(s)
		batch.Queue(insertSnapshotSQL,
			r.SnapshotTs, r.ReceivedAt, r.Symbol, r.Exchange,
			r.Last, r.Bid, r.Ask, r.Spread, r.Volume,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range snaps {
		ct, err := results.Exec()
		if err != nil {
			w.mu.Lock()
			w.metrics.Errors++
			w.mu.Unlock()
			w.logger.Error("snapshot insert failed", "error", err, "count", len(snaps))
			return err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	w.mu.Lock()
	w.metrics.Inserts += int64(len(snaps) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("wrote snapshots",
		"count", len(snaps),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// Stats returns current metrics.
func (w *SnapshotWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func transformSnapshot(s model.QuoteSnapshot) snapshotRow {
	return snapshotRow{
		SnapshotTs: s.SnapshotTS,
		ReceivedAt: s.Quote.ReceivedAt,
		Symbol:     s.Quote.Symbol,
		Exchange:   s.Quote.Exchange,
		Last:       s.Quote.Last,
		Bid:        s.Quote.Bid,
		Ask:        s.Quote.Ask,
		Spread:     s.Quote.Spread(),
		Volume:     s.Quote.Volume,
	}
}
