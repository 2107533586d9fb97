package feed

import (
	"time"

	"github.com/rickgao/dtc-feed/internal/session"
)

// Instrument is a symbol on an exchange.
type Instrument struct {
	Symbol   string
	Exchange string
}

// ManagerConfig holds configuration for the feed manager.
type ManagerConfig struct {
	Session       session.Config
	Subscriptions []Instrument // Subscribed on every session

	ReconnectBaseDelay time.Duration // Default: 1s
	ReconnectMaxDelay  time.Duration // Default: 30s
	OutputBufferSize   int           // Default: 1024
	SubscribeTimeout   time.Duration // Per Subscribe call (default: 5s)
}

// DefaultManagerConfig returns default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Session:            session.DefaultConfig(),
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		OutputBufferSize:   1024,
		SubscribeTimeout:   5 * time.Second,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = c.ReconnectBaseDelay
	}
	if c.OutputBufferSize <= 0 {
		c.OutputBufferSize = d.OutputBufferSize
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	return c
}

// Backoff returns the delay before reconnect attempt n (0-based):
// min(base*2^n, max).
func Backoff(base, maxDelay time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxDelay || d <= 0 {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

// desired tracks one instrument across sessions.
type desired struct {
	Instrument
	id         uint16 // id on the current session, 0 when not subscribed
	rejectText string
}
