// Package poller implements the snapshot poller.
//
// The poller:
//   - Copies every latest quote from the quote store on a fixed interval
//   - Stamps the copy with one snapshot timestamp per cycle
//   - Writes the snapshots in chunks with bounded concurrency
package poller
