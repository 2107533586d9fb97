package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrAlreadyClosed  = errors.New("already closed")
)

// IoError wraps a socket-level failure.
type IoError struct {
	Op  string // "dial", "read" or "write"
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Chunk is one read from the socket.
type Chunk struct {
	Data       []byte    // Bytes as read, owned by the receiver
	ReceivedAt time.Time // Local timestamp when Read returned
}

// ClientConfig holds configuration for a TCP client.
type ClientConfig struct {
	Host            string
	Port            int
	ConnectTimeout  time.Duration // Dial timeout (default: 10s)
	WriteTimeout    time.Duration // Per-write deadline (default: 5s)
	KeepAlivePeriod time.Duration // TCP keep-alive probe period (default: 30s)
	ReadBufferSize  int           // Bytes per read (default: 4096)
	BufferSize      int           // Chunk channel capacity (default: 64)

	// Dial opens the connection (default: net.Dialer with KeepAlivePeriod).
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    5 * time.Second,
		KeepAlivePeriod: 30 * time.Second,
		ReadBufferSize:  4096,
		BufferSize:      64,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Dial == nil {
		dialer := &net.Dialer{KeepAlive: c.KeepAlivePeriod}
		c.Dial = dialer.DialContext
	}
	return c
}
