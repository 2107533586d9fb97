// Package dtctest provides an in-process DTC server for tests and local runs.
package dtctest

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/dtc-feed/internal/dtc"
)

// Handler is called for every message a client sends after the built-in
// handshake handling.
type Handler func(c *Conn, msg dtc.Message)

// Server accepts DTC clients on a TCP listener and answers the encoding and
// logon handshake.
type Server struct {
	ln     net.Listener
	logger *slog.Logger

	encoding    dtc.Encoding
	logonResult int32
	logonText   string
	logonDelay  time.Duration
	handshake   bool
	handler     Handler

	conns chan *Conn

	mu     sync.Mutex
	all    []*Conn
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithEncoding sets the encoding the server answers with.
func WithEncoding(enc dtc.Encoding) Option {
	return func(s *Server) { s.encoding = enc }
}

// WithLogonResult sets the LogonResponse result code and text.
func WithLogonResult(code int32, text string) Option {
	return func(s *Server) {
		s.logonResult = code
		s.logonText = text
	}
}

// WithLogonDelay delays the LogonResponse.
func WithLogonDelay(d time.Duration) Option {
	return func(s *Server) { s.logonDelay = d }
}

// WithoutHandshake disables the automatic encoding and logon replies.
func WithoutHandshake() Option {
	return func(s *Server) { s.handshake = false }
}

// WithHandler sets the message handler.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer listens on addr ("127.0.0.1:0" for tests) and starts accepting.
func NewServer(addr string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:          ln,
		logger:      slog.Default(),
		encoding:    dtc.EncodingBinary,
		logonResult: dtc.LogonSuccess,
		logonText:   "logon successful",
		handshake:   true,
		conns:       make(chan *Conn, 16),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Accept waits for the next client connection.
func (s *Server) Accept(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-s.conns:
		return c, nil
	case <-time.After(timeout):
		return nil, errors.New("dtctest: no connection within timeout")
	}
}

// Close stops the listener and closes every client connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.all
	s.mu.Unlock()

	s.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}

		c := newConn(nc)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.all = append(s.all, c)
		s.mu.Unlock()

		select {
		case s.conns <- c:
		default:
		}

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c *Conn) {
	defer s.wg.Done()
	defer c.Close()

	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		if err != nil {
			return
		}
		c.framer.Feed(buf[:n])

		for {
			frame, err := c.framer.Next()
			if err != nil {
				s.logger.Warn("dtctest: framing error", "err", err)
				continue
			}
			if frame == nil {
				break
			}
			msg, err := c.codec.Decode(frame)
			if err != nil {
				s.logger.Warn("dtctest: decode error", "err", err)
				continue
			}
			s.handle(c, msg)
		}
	}
}

func (s *Server) handle(c *Conn, msg dtc.Message) {
	select {
	case c.received <- msg:
	default:
	}

	if s.handshake {
		switch m := msg.(type) {
		case *dtc.EncodingRequest:
			c.Send(&dtc.EncodingResponse{
				ProtocolVersion: dtc.ProtocolVersion,
				Encoding:        s.encoding,
				ProtocolType:    m.ProtocolType,
			})
			c.switchEncoding(s.encoding)
			return
		case *dtc.LogonRequest:
			if s.logonDelay > 0 {
				time.Sleep(s.logonDelay)
			}
			c.Send(&dtc.LogonResponse{
				ProtocolVersion:              dtc.ProtocolVersion,
				Result:                       s.logonResult,
				ResultText:                   s.logonText,
				ServerName:                   "dtctest",
				SecurityDefinitionsSupported: 1,
				MarketDataSupported:          1,
			})
			return
		}
	}

	if s.handler != nil {
		s.handler(c, msg)
	}
}

// Conn is one accepted client connection.
type Conn struct {
	nc       net.Conn
	framer   dtc.Framer
	codec    dtc.Codec
	received chan dtc.Message

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(nc net.Conn) *Conn {
	return &Conn{
		nc:       nc,
		framer:   dtc.NewBinaryFramer(0),
		codec:    dtc.BinaryCodec{},
		received: make(chan dtc.Message, 256),
		done:     make(chan struct{}),
	}
}

// switchEncoding moves the connection to another encoding, keeping any
// bytes already buffered. It runs on the serve goroutine only.
func (c *Conn) switchEncoding(enc dtc.Encoding) {
	codec, err := dtc.NewCodec(enc)
	if err != nil || codec.Encoding() == c.codec.Encoding() {
		return
	}
	framer, _ := dtc.NewFramer(enc, 0)
	framer.Feed(c.framer.Reset())

	c.writeMu.Lock()
	c.codec = codec
	c.writeMu.Unlock()
	c.framer = framer
}

// Send encodes and writes a message.
func (c *Conn) Send(msg dtc.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	b, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(b)
	return err
}

// WriteRaw writes bytes as-is.
func (c *Conn) WriteRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(b)
	return err
}

// Receive returns the next message the client sent, or false on timeout.
func (c *Conn) Receive(timeout time.Duration) (dtc.Message, bool) {
	select {
	case msg := <-c.received:
		return msg, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Expect returns the next message of type t, skipping others.
func (c *Conn) Expect(t dtc.MessageType, timeout time.Duration) (dtc.Message, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		msg, ok := c.Receive(remaining)
		if !ok {
			return nil, false
		}
		if msg.Type() == t {
			return msg, true
		}
	}
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}
