// Package feed keeps a DTC market data feed alive.
//
// The manager owns one session at a time. When a session closes it waits
// min(base*2^attempt, max) and starts a new one, then subscribes every
// desired instrument again. Events from all sessions are forwarded, in
// order, on a single channel.
package feed
