// Package connection implements the TCP transport used by a DTC session.
//
// The transport:
//   - Dials with a connect timeout and enables TCP_NODELAY and keep-alive
//   - Serializes writes behind one mutex so frames never interleave
//   - Delivers raw byte chunks from a single reader goroutine
//   - Reports the first socket error once, and nothing after Close
package connection
