package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client represents a single TCP connection to a DTC server.
type Client interface {
	// Connect dials the server.
	Connect(ctx context.Context) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Chunks returns the bytes read from the socket, in order.
	Chunks() <-chan Chunk

	// Errors returns the first read error (io.EOF on remote close).
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface over net.TCPConn.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn net.Conn

	// Output channels
	chunks chan Chunk
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new TCP client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &client{
		cfg:    cfg,
		logger: logger,
		chunks: make(chan Chunk, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect dials the server within the connect timeout.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dial(dialCtx, "tcp", addr)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return ErrConnectTimeout
		}
		return &IoError{Op: "dial", Err: err}
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(c.cfg.KeepAlivePeriod)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("tcp connected", "addr", addr)

	return nil
}

// Close closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := conn.Write(data); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	return nil
}

// Chunks returns the chunk channel.
func (c *client) Chunks() <-chan Chunk {
	return c.chunks
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads from the socket and forwards copies of each read. It never
// drops bytes: a full channel blocks the reader until the consumer catches up
// or the client is closed.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		receivedAt := time.Now() // Capture timestamp immediately

		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			select {
			case c.chunks <- Chunk{Data: data, ReceivedAt: receivedAt}:
			case <-c.done:
				return
			}
		}

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
			}
			if !errors.Is(err, io.EOF) {
				err = &IoError{Op: "read", Err: err}
			}
			select {
			case c.errors <- err:
			default:
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
