// Package dtc implements the DTC (Data Trading Communication) wire protocol.
//
// It contains:
//   - Message types for the logon, heartbeat, market data and security definition messages
//   - BinaryFramer: splits a byte stream on the 2-byte little-endian size prefix
//   - NULFramer: splits a JSON stream on NUL terminators
//   - BinaryCodec: fixed-offset little-endian struct encoding
//   - JSONCodec: the JSON encoding variant
//
// Nothing in this package touches a socket; it operates on byte slices only.
package dtc
