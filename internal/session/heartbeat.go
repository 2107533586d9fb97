package session

import (
	"time"

	"github.com/rickgao/dtc-feed/internal/dtc"
)

// heartbeatMonitor sends heartbeats on a fixed interval and watches for
// silence from the server. It is driven by the session loop.
//
// The ticker runs at the shorter of interval and timeout so the watchdog
// fires on time; due reports whether a tick should also send.
type heartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration // 0 disables the receive watchdog
	period   time.Duration

	ticker       *time.Ticker
	lastReceived time.Time
	lastSent     time.Time
}

func newHeartbeatMonitor(interval, timeout time.Duration) *heartbeatMonitor {
	period := interval
	if timeout > 0 && timeout < interval {
		period = timeout
	}
	return &heartbeatMonitor{interval: interval, timeout: timeout, period: period}
}

// start begins the send interval. The watchdog and the send interval both
// count from now.
func (h *heartbeatMonitor) start(now time.Time) {
	h.lastReceived = now
	h.lastSent = now
	if h.ticker == nil {
		h.ticker = time.NewTicker(h.period)
	}
}

func (h *heartbeatMonitor) stop() {
	if h.ticker != nil {
		h.ticker.Stop()
	}
}

// C is nil until start, which blocks forever in a select.
func (h *heartbeatMonitor) C() <-chan time.Time {
	if h.ticker == nil {
		return nil
	}
	return h.ticker.C
}

func (h *heartbeatMonitor) observe(at time.Time) {
	if at.After(h.lastReceived) {
		h.lastReceived = at
	}
}

// expired reports whether the server has been silent longer than the timeout.
func (h *heartbeatMonitor) expired(now time.Time) bool {
	if h.timeout <= 0 || h.lastReceived.IsZero() {
		return false
	}
	return now.Sub(h.lastReceived) > h.timeout
}

// due reports whether a heartbeat should be sent on a tick at now. Half a
// period of slack absorbs ticker jitter.
func (h *heartbeatMonitor) due(now time.Time) bool {
	if h.lastSent.IsZero() {
		return true
	}
	return now.Sub(h.lastSent) >= h.interval-h.period/2
}

func (h *heartbeatMonitor) next(now time.Time, dropped uint32) *dtc.Heartbeat {
	h.lastSent = now
	return &dtc.Heartbeat{
		NumDroppedMessages: dropped,
		CurrentDateTime:    now.Unix(),
	}
}
