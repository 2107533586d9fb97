package writer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
	}
}

// Batcher sends a batch of statements. *pgxpool.Pool implements it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// quoteRow represents a row to be inserted into the quotes table.
type quoteRow struct {
	ReceivedAt     int64 // Microseconds
	SessionID      uuid.UUID
	SubscriptionID int32
	Symbol         string
	Exchange       string
	Kind           string
	Last           float64
	Bid            float64
	Ask            float64
	Volume         float64
}

// snapshotRow represents a row for the quote_snapshots table.
type snapshotRow struct {
	SnapshotTs int64 // Microseconds
	ReceivedAt int64 // When the quote itself arrived
	Symbol     string
	Exchange   string
	Last       float64
	Bid        float64
	Ask        float64
	Spread     float64
	Volume     float64
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
	Flushes   int64 `json:"flushes"`
}
