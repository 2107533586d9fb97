package model

import "github.com/google/uuid"

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Quote is the latest merged market state for one instrument.
type Quote struct {
	SessionID      uuid.UUID `json:"session_id"`      // Session that produced the update
	SubscriptionID uint16    `json:"subscription_id"` // DTC symbol id on that session
	Symbol         string    `json:"symbol"`          // e.g. "ES"
	Exchange       string    `json:"exchange"`        // e.g. "CME"
	Kind           string    `json:"kind"`            // "snapshot", "trade" or "bidask"
	Last           float64   `json:"last"`            // Last trade price
	Bid            float64   `json:"bid"`             // Best bid
	Ask            float64   `json:"ask"`             // Best ask
	Volume         float64   `json:"volume"`          // Last trade volume
	ReceivedAt     int64     `json:"received_at"`     // Local receive time (µs since epoch)
}

// Key identifies the instrument of the quote.
func (q Quote) Key() string {
	return InstrumentKey(q.Symbol, q.Exchange)
}

// Spread returns ask minus bid, or 0 when either side is missing.
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// InstrumentKey builds the "EXCHANGE:SYMBOL" key used by caches and sinks.
func InstrumentKey(symbol, exchange string) string {
	if exchange == "" {
		return symbol
	}
	return exchange + ":" + symbol
}

// QuoteSnapshot is a periodic copy of a quote taken by the poller.
type QuoteSnapshot struct {
	SnapshotTS int64 // Snapshot timestamp (µs since epoch)
	Quote      Quote
}

// SecurityDefinition describes an instrument as reported by the server.
type SecurityDefinition struct {
	RequestID   int32  `json:"request_id"`
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	Description string `json:"description"`
}

// -----------------------------------------------------------------------------
// Feed State
// -----------------------------------------------------------------------------

// Subscription is one instrument the feed keeps subscribed.
type Subscription struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	ID         uint16 `json:"id"`                    // Id on the current session, 0 when not subscribed
	Active     bool   `json:"active"`                // Subscribed on the current session
	RejectText string `json:"reject_text,omitempty"` // Set when the server rejected it
}

// FeedStatus reports the connection state of the feed.
type FeedStatus struct {
	State             string `json:"state"`
	Connected         bool   `json:"connected"`
	SessionID         string `json:"session_id,omitempty"`
	LastHeartbeat     int64  `json:"last_heartbeat"` // µs since epoch, 0 if none yet
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastError         string `json:"last_error,omitempty"`
	Sessions          int64  `json:"sessions"`       // Sessions started since Start
	DroppedEvents     int64  `json:"dropped_events"` // Quotes dropped on a full output
	Subscriptions     int    `json:"subscriptions"`  // Desired instruments
}
