package router

import (
	"context"

	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
)

// RouterConfig holds configuration for the Quote Router.
type RouterConfig struct {
	// Output buffer sizes
	RecordBufferSize    int // Initial capacity of the recorder buffer (default: 5000)
	BroadcastBufferSize int // Initial capacity of the broadcast buffer (default: 1000)
	BroadcastLimit      int // Broadcast buffer drops oldest past this (0: unbounded)

	// DisableRecord skips the record buffer when no writer consumes it.
	DisableRecord bool
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RecordBufferSize:    5000,
		BroadcastBufferSize: 1000,
		BroadcastLimit:      10000,
	}
}

// RouterBuffers provides access to output buffers for consumers.
type RouterBuffers struct {
	Record    *queue.Queue[model.Quote] // Consumed by the quote writer
	Broadcast *queue.Queue[model.Quote] // Consumed by the stream hub
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived int64       `json:"events_received"`
	QuotesRouted   int64       `json:"quotes_routed"`
	Rejects        int64       `json:"rejects"`
	Errors         int64       `json:"errors"`
	StoreErrors    int64       `json:"store_errors"`
	Definitions    int64       `json:"definitions"`
	SessionsClosed int64       `json:"sessions_closed"`
	RecordBuffer   queue.Stats `json:"record_buffer"`
	BroadcastBuf   queue.Stats `json:"broadcast_buffer"`
}

// QuoteStore receives every routed quote.
type QuoteStore interface {
	Put(ctx context.Context, q model.Quote) error
}
