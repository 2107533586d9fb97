// Package writer implements batch writers for market data.
//
// Writers:
//   - Quote writer: every routed quote, appended to the quotes table
//   - Snapshot writer: periodic copies of the latest quotes, quote_snapshots table
//
// All writers use append-only semantics (never update, only insert).
package writer
