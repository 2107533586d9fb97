// Package model defines shared data types used across the DTC feed service.
//
// Conventions:
//   - Prices: float64 as sent by the DTC server
//   - Timestamps: int64 microseconds since Unix epoch
//   - Instruments are keyed by symbol and exchange
package model
