package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
)

const insertQuoteSQL = `
	INSERT INTO quotes (received_at, session_id, subscription_id, symbol, exchange, kind, last, bid, ask, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (session_id, subscription_id, received_at, kind) DO NOTHING
`

// QuoteWriter consumes quotes from the router buffer and writes to the quotes table.
type QuoteWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the Quote Router
	input *queue.Queue[model.Quote]

	// Database
	db Batcher

	// Batching
	batch       []quoteRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewQuoteWriter creates a new QuoteWriter.
func NewQuoteWriter(
	cfg WriterConfig,
	input *queue.Queue[model.Quote],
	db Batcher,
	logger *slog.Logger,
) *QuoteWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]quoteRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming quotes and writing to the database.
func (w *QuoteWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("quote writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Quotes still buffered are written
// with ctx.
func (w *QuoteWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping quote writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("quote writer stopped")
	case <-ctx.Done():
		w.logger.Warn("quote writer stop timed out")
	}

	// Final flush
	for _, q := range w.input.Drain(0) {
		w.add(q)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *QuoteWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *QuoteWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		q, err := w.input.Pop(w.ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				w.logger.Debug("quote buffer closed")
			}
			return
		}
		if w.add(q) {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *QuoteWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends a quote to the batch and reports whether it is full.
func (w *QuoteWriter) add(q model.Quote) bool {
	row := w.transform(q)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a quote to a quoteRow.
func (w *QuoteWriter) transform(q model.Quote) quoteRow {
	return quoteRow{
		ReceivedAt:     q.ReceivedAt,
		SessionID:      q.SessionID,
		SubscriptionID: int32(q.SubscriptionID),
		Symbol:         q.Symbol,
		Exchange:       q.Exchange,
		Kind:           q.Kind,
		Last:           q.Last,
		Bid:            q.Bid,
		Ask:            q.Ask,
		Volume:         q.Volume,
	}
}

// flush writes the current batch to the database.
func (w *QuoteWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]quoteRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed quotes",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *QuoteWriter) batchInsert(ctx context.Context, rows []quoteRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertQuoteSQL,
			r.ReceivedAt, r.SessionID, r.SubscriptionID, r.Symbol, r.Exchange,
			r.Kind, r.Last, r.Bid, r.Ask, r.Volume,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

var errNoDatabase = errors.New("no database configured")
