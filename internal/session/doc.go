// Package session implements a DTC client session on top of the connection
// and dtc packages.
//
// A Session:
//   - Negotiates the encoding, then logs on
//   - Tracks subscriptions by connection-scoped u16 ids
//   - Sends heartbeats and closes the connection when the server goes silent
//   - Reports everything through a single ordered Events channel, ending
//     with exactly one EventClosed
package session
