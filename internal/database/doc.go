// Package database provides the PostgreSQL connection pool and schema for
// recorded quotes.
//
// Two tables are written:
//   - quotes: every routed quote, keyed by session, subscription, time and kind
//   - quote_snapshots: periodic latest-quote snapshots taken by the poller
//
// Recording is optional; with no database host configured nothing here is used.
package database
