// Package quotestore keeps the latest quote per instrument.
//
// Memory is the source of truth for reads. Redis, when configured, mirrors
// every quote into a hash and publishes it on a channel so other processes
// can follow the feed.
package quotestore

import (
	"context"
	"slices"
	"sync"

	"github.com/rickgao/dtc-feed/internal/model"
)

// Store holds the latest quote per instrument.
type Store interface {
	Put(ctx context.Context, q model.Quote) error
	Get(ctx context.Context, symbol, exchange string) (model.Quote, bool)
	All(ctx context.Context) []model.Quote
	Ping(ctx context.Context) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{quotes: make(map[string]model.Quote)}
}

// Put replaces the quote for q's instrument unless a newer one is stored.
func (m *Memory) Put(_ context.Context, q model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := q.Key()
	if cur, ok := m.quotes[key]; ok && cur.ReceivedAt > q.ReceivedAt {
		return nil
	}
	m.quotes[key] = q
	return nil
}

// Get returns the latest quote for symbol on exchange.
func (m *Memory) Get(_ context.Context, symbol, exchange string) (model.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quotes[model.InstrumentKey(symbol, exchange)]
	return q, ok
}

// All returns every quote sorted by instrument key.
func (m *Memory) All(_ context.Context) []model.Quote {
	m.mu.RLock()
	out := make([]model.Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		out = append(out, q)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Quote) int {
		switch ka, kb := a.Key(), b.Key(); {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of instruments.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.quotes)
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }
