package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/dtc-feed/internal/connection"
	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/queue"
)

var tracer = otel.Tracer("github.com/rickgao/dtc-feed/internal/session")

// Config holds session configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	Encoding   dtc.Encoding // Requested encoding (default: binary)
	ClientName string       // Sent as LogonRequest.GeneralTextData
	TradeMode  uint8

	HeartbeatInterval time.Duration // Send interval (default: 30s)
	HeartbeatTimeout  time.Duration // Receive watchdog (0: 2.5x interval, <0: disabled)
	ConnectTimeout    time.Duration // TCP connect timeout (default: 10s)
	HandshakeGrace    time.Duration // Added to ConnectTimeout for encoding + logon (default: 5s)
	WriteTimeout      time.Duration // Per-write deadline (default: 5s)
	MaxFrameSize      int           // Framer cap (default: 16 KiB)
	EventBufferSize   int           // Events channel capacity (default: 256)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Encoding:          dtc.EncodingBinary,
		ClientName:        "dtc-feed",
		HeartbeatInterval: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		HandshakeGrace:    5 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxFrameSize:      dtc.DefaultMaxFrameSize,
		EventBufferSize:   256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClientName == "" {
		c.ClientName = d.ClientName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = c.HeartbeatInterval * 5 / 2
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeGrace <= 0 {
		c.HandshakeGrace = d.HandshakeGrace
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	return c
}

type cmdKind int

const (
	cmdSubscribe cmdKind = iota
	cmdUnsubscribe
	cmdSecurityDefinition
	cmdList
	cmdDisconnect
	cmdAbortHandshake
)

type command struct {
	kind     cmdKind
	symbol   string
	exchange string
	id       uint16
	cause    error
	reply    chan result
}

type result struct {
	id        uint16
	requestID int32
	subs      []Subscription
	err       error
}

// Session is one DTC connection: encoding negotiation, logon, market data
// subscriptions and heartbeats. A session is used once; reconnecting means
// creating a new Session.
//
// All connection state is owned by a single loop goroutine. Public methods
// talk to it through commands, so a subscription is registered before its
// request is written and can always resolve the first reply.
type Session struct {
	cfg    Config
	logger *slog.Logger
	id     uuid.UUID
	dial   func(ctx context.Context, network, addr string) (net.Conn, error) // nil: net.Dialer

	// Loop-owned
	conn          connection.Client
	framer        dtc.Framer
	codec         dtc.Codec
	registry      *Registry
	hb            *heartbeatMonitor
	authenticated bool
	nextRequestID int32
	dropped       uint32

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos of the last server heartbeat

	events *queue.Queue[Event]
	out    chan Event

	cmds chan command

	mu      sync.Mutex
	started bool

	life     context.Context
	stopLife context.CancelFunc

	connectResult chan error
	resolveOnce   sync.Once
	closeOnce     sync.Once
	done          chan struct{}
}

// New creates a session. Events must be drained until the channel closes,
// and a session that is never connected should still be released with
// Disconnect.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	id := uuid.New()

	s := &Session{
		cfg:           cfg,
		logger:        logger.With("session_id", id.String()),
		id:            id,
		framer:        dtc.NewBinaryFramer(cfg.MaxFrameSize),
		codec:         dtc.BinaryCodec{},
		registry:      NewRegistry(),
		hb:            newHeartbeatMonitor(cfg.HeartbeatInterval, max(cfg.HeartbeatTimeout, 0)),
		events:        queue.New[Event](64, 0),
		out:           make(chan Event, cfg.EventBufferSize),
		cmds:          make(chan command),
		connectResult: make(chan error, 1),
		done:          make(chan struct{}),
	}
	s.life, s.stopLife = context.WithCancel(context.Background())

	go s.pump()
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Events returns the event channel. It is closed after EventClosed.
func (s *Session) Events() <-chan Event { return s.out }

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastHeartbeat returns when the server last sent a heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	n := s.lastHeartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connect dials the server and runs the encoding and logon handshake. It
// returns nil once authenticated, *LogonRejectedError when the server
// refuses the logon, connection.ErrConnectTimeout or *connection.IoError
// when the dial fails, and a *HandshakeError for anything else that ends
// the session before authentication.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "dtc.connect", trace.WithAttributes(
		attribute.String("dtc.host", s.cfg.Host),
		attribute.Int("dtc.port", s.cfg.Port),
		attribute.String("dtc.encoding", s.cfg.Encoding.String()),
		attribute.String("dtc.session_id", s.id.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// The handshake budget includes the dial.
	timer := time.NewTimer(s.cfg.ConnectTimeout + s.cfg.HandshakeGrace)
	defer timer.Stop()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	s.setState(Connecting)
	s.conn = connection.NewClient(connection.ClientConfig{
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		ConnectTimeout: s.cfg.ConnectTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		Dial:           s.dial,
	}, s.logger)

	if err := s.conn.Connect(dialCtx); err != nil {
		s.logger.Warn("dtc connect failed", "host", s.cfg.Host, "port", s.cfg.Port, "err", err)
		s.emit(Event{Kind: EventError, Err: err})
		s.teardown(err)
		return err
	}
	span.AddEvent("tcp connected")

	go s.run()

	select {
	case err := <-s.connectResult:
		return err
	case <-timer.C:
		s.abortHandshake(ErrHandshakeTimeout)
	case <-ctx.Done():
		s.abortHandshake(ctx.Err())
	}
	return <-s.connectResult
}

// Subscribe requests market data for symbol on exchange and returns the
// subscription id echoed by the server on every update.
func (s *Session) Subscribe(ctx context.Context, symbol, exchange string) (uint16, error) {
	r, err := s.do(ctx, command{kind: cmdSubscribe, symbol: symbol, exchange: exchange})
	return r.id, err
}

// Unsubscribe stops market data for id. Quote events for it stop at once.
func (s *Session) Unsubscribe(ctx context.Context, id uint16) error {
	_, err := s.do(ctx, command{kind: cmdUnsubscribe, id: id})
	return err
}

// RequestSecurityDefinition asks for the definition of symbol. The answer
// arrives as an EventSecurityDefinition carrying the returned request id.
func (s *Session) RequestSecurityDefinition(ctx context.Context, symbol, exchange string) (int32, error) {
	r, err := s.do(ctx, command{kind: cmdSecurityDefinition, symbol: symbol, exchange: exchange})
	return r.requestID, err
}

// Subscriptions lists every subscription made on this session.
func (s *Session) Subscriptions(ctx context.Context) ([]Subscription, error) {
	r, err := s.do(ctx, command{kind: cmdList})
	return r.subs, err
}

// Disconnect logs off and closes the session. Safe to call at any time and
// more than once.
func (s *Session) Disconnect() {
	s.stopLife()

	s.mu.Lock()
	started := s.started
	s.started = true
	s.mu.Unlock()

	if !started {
		s.teardown(nil)
		return
	}
	s.do(context.Background(), command{kind: cmdDisconnect})
	<-s.done
}

func (s *Session) abortHandshake(cause error) {
	s.do(context.Background(), command{kind: cmdAbortHandshake, cause: cause})
}

// do hands a command to the loop and waits for its reply.
func (s *Session) do(ctx context.Context, cmd command) (result, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return result{}, ErrNotAuthenticated
	}

	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return result{}, ErrSessionClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// run is the session loop.
func (s *Session) run() {
	err := s.send(&dtc.EncodingRequest{
		ProtocolVersion: dtc.ProtocolVersion,
		Encoding:        s.cfg.Encoding,
		ProtocolType:    "DTC",
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.setState(AwaitingEncoding)

	for !s.closed() {
		select {
		case chunk := <-s.conn.Chunks():
			s.handleChunk(chunk)

		case err := <-s.conn.Errors():
			// Bytes read before the error still belong to the stream.
			s.drainChunks()
			if !s.closed() {
				s.fail(err)
			}

		case cmd := <-s.cmds:
			s.handleCommand(cmd)

		case now := <-s.hb.C():
			s.onHeartbeatTick(now)
		}
	}
}

func (s *Session) drainChunks() {
	for !s.closed() {
		select {
		case chunk := <-s.conn.Chunks():
			s.handleChunk(chunk)
		default:
			return
		}
	}
}

func (s *Session) handleChunk(chunk connection.Chunk) {
	s.framer.Feed(chunk.Data)

	for !s.closed() {
		frame, err := s.framer.Next()
		if err != nil {
			s.malformed(err)
			continue
		}
		if frame == nil {
			return
		}

		msg, err := s.codec.Decode(frame)
		if err != nil {
			s.malformed(err)
			continue
		}
		s.handleMessage(msg, chunk.ReceivedAt)
	}
}

// malformed handles framing and decode errors: fatal during the handshake,
// dropped and reported once authenticated.
func (s *Session) malformed(err error) {
	if !s.authenticated {
		s.fail(err)
		return
	}
	s.dropped++
	s.logger.Warn("dropping malformed message", "err", err)
	s.emit(Event{Kind: EventError, Err: err})
}

func (s *Session) handleMessage(msg dtc.Message, at time.Time) {
	cur := s.State()
	st := transition(cur, msg)

	switch st.action {
	case actIgnore:
		s.logger.Debug("ignoring unsupported message", "type", msg.Type())

	case actViolation:
		verr := &ProtocolViolationError{State: cur, Type: msg.Type()}
		s.logger.Warn("protocol violation, message dropped", "type", msg.Type(), "state", cur)
		if s.authenticated {
			s.emit(Event{Kind: EventError, Err: verr})
		}

	case actSendLogon:
		resp := msg.(*dtc.EncodingResponse)
		s.setState(st.next)
		if err := s.useEncoding(resp.Encoding); err != nil {
			s.fail(err)
			return
		}
		s.logger.Debug("encoding negotiated", "encoding", resp.Encoding, "protocol_version", resp.ProtocolVersion)
		if err := s.send(s.logonRequest()); err != nil {
			s.fail(err)
			return
		}
		s.setState(AwaitingLogon)

	case actAuthenticated:
		resp := msg.(*dtc.LogonResponse)
		s.authenticated = true
		s.setState(st.next)
		s.hb.start(at)
		s.logger.Info("dtc session authenticated",
			"server", resp.ServerName,
			"result_text", resp.ResultText,
			"encoding", s.codec.Encoding(),
		)
		s.emit(Event{Kind: EventAuthenticated, Text: resp.ServerName})
		s.resolveConnect(nil)

	case actAuthFailed:
		resp := msg.(*dtc.LogonResponse)
		rej := &LogonRejectedError{Code: resp.Result, Text: resp.ResultText}
		s.setState(st.next)
		s.logger.Warn("dtc logon rejected", "result", resp.Result, "text", resp.ResultText)
		s.emit(Event{Kind: EventAuthFailed, Text: resp.ResultText, Err: rej})
		s.resolveConnect(rej)
		s.teardown(rej)

	case actRemoteLogoff:
		m := msg.(*dtc.Logoff)
		lerr := &RemoteLogoffError{Reason: m.Reason, DoNotReconnect: m.DoNotReconnect != 0}
		s.logger.Warn("server logged off", "reason", m.Reason, "do_not_reconnect", lerr.DoNotReconnect)
		s.teardown(lerr)

	case actDeliver:
		s.dispatch(msg, at)
	}
}

// dispatch handles messages accepted while authenticated.
func (s *Session) dispatch(msg dtc.Message, at time.Time) {
	switch m := msg.(type) {
	case *dtc.Heartbeat:
		s.hb.observe(at)
		s.lastHeartbeat.Store(at.UnixNano())

	case *dtc.MarketDataSnapshot:
		s.applyQuote(m.SymbolID, func(q *Quote) {
			q.Kind = QuoteSnapshot
			q.Last = m.LastTradePrice
			q.Volume = m.LastTradeVolume
			q.Bid = m.BidPrice
			q.Ask = m.AskPrice
		})

	case *dtc.MarketDataUpdateTrade:
		s.applyQuote(m.SymbolID, func(q *Quote) {
			q.Kind = QuoteTrade
			q.Last = m.Price
			q.Volume = m.Volume
		})

	case *dtc.MarketDataUpdateBidAsk:
		s.applyQuote(m.SymbolID, func(q *Quote) {
			q.Kind = QuoteBidAsk
			q.Bid = m.BidPrice
			q.Ask = m.AskPrice
		})

	case *dtc.MarketDataReject:
		sub, _ := s.registry.Reject(m.SymbolID, m.RejectText)
		s.logger.Warn("market data rejected",
			"symbol_id", m.SymbolID,
			"symbol", sub.Symbol,
			"text", m.RejectText,
		)
		s.emit(Event{
			Kind:           EventReject,
			SubscriptionID: m.SymbolID,
			Symbol:         sub.Symbol,
			Exchange:       sub.Exchange,
			Text:           m.RejectText,
			Err: &MarketDataRejectedError{
				SubscriptionID: m.SymbolID,
				Symbol:         sub.Symbol,
				Exchange:       sub.Exchange,
				Text:           m.RejectText,
			},
		})

	case *dtc.SecurityDefinitionResponse:
		s.emit(Event{
			Kind:     EventSecurityDefinition,
			Symbol:   m.Symbol,
			Exchange: m.Exchange,
			Definition: SecurityDefinition{
				RequestID:   m.RequestID,
				Symbol:      m.Symbol,
				Exchange:    m.Exchange,
				Description: m.Description,
			},
		})

	case *dtc.GeneralLogMessage:
		s.logger.Info("server message", "text", m.MessageText)
		s.emit(Event{Kind: EventServerLog, Text: m.MessageText})
	}
}

func (s *Session) applyQuote(id uint16, update func(*Quote)) {
	sub, ok := s.registry.Apply(id, update)
	if !ok {
		s.logger.Debug("market data for unknown or inactive subscription", "symbol_id", id)
		return
	}
	s.emit(Event{
		Kind:           EventQuote,
		SubscriptionID: id,
		Symbol:         sub.Symbol,
		Exchange:       sub.Exchange,
		Quote:          sub.Quote,
	})
}

func (s *Session) handleCommand(cmd command) {
	var r result

	switch cmd.kind {
	case cmdSubscribe:
		if !s.authenticated {
			r.err = ErrNotAuthenticated
			break
		}
		id, err := s.registry.Subscribe(cmd.symbol, cmd.exchange)
		if err != nil {
			r.err = err
			break
		}
		r.id = id
		r.err = s.send(&dtc.MarketDataRequest{
			RequestAction: dtc.RequestSubscribe,
			SymbolID:      id,
			Symbol:        cmd.symbol,
			Exchange:      cmd.exchange,
		})
		if r.err == nil {
			s.logger.Debug("subscribed", "symbol", cmd.symbol, "exchange", cmd.exchange, "symbol_id", id)
		}

	case cmdUnsubscribe:
		if !s.authenticated {
			r.err = ErrNotAuthenticated
			break
		}
		symbol, exchange, _ := s.registry.Resolve(cmd.id)
		if !s.registry.Unsubscribe(cmd.id) {
			r.err = ErrUnknownSubscription
			break
		}
		r.err = s.send(&dtc.MarketDataRequest{
			RequestAction: dtc.RequestUnsubscribe,
			SymbolID:      cmd.id,
			Symbol:        symbol,
			Exchange:      exchange,
		})

	case cmdSecurityDefinition:
		if !s.authenticated {
			r.err = ErrNotAuthenticated
			break
		}
		s.nextRequestID++
		r.requestID = s.nextRequestID
		r.err = s.send(&dtc.SecurityDefinitionForSymbolRequest{
			RequestID: r.requestID,
			Symbol:    cmd.symbol,
			Exchange:  cmd.exchange,
		})

	case cmdList:
		r.subs = s.registry.List()

	case cmdDisconnect:
		if s.authenticated {
			s.setState(Closing)
			if err := s.send(&dtc.Logoff{Reason: "Client disconnect"}); err != nil {
				s.logger.Debug("logoff not sent", "err", err)
			}
		}
		s.teardown(nil)

	case cmdAbortHandshake:
		if !s.authenticated {
			s.teardown(cmd.cause)
		}
	}

	cmd.reply <- r

	// A failed write means the socket is gone.
	var ioErr *connection.IoError
	if errors.As(r.err, &ioErr) {
		s.fail(r.err)
	}
}

func (s *Session) onHeartbeatTick(now time.Time) {
	if s.hb.expired(now) {
		s.logger.Warn("no heartbeat from server",
			"last_received", s.hb.lastReceived,
			"timeout", s.hb.timeout,
		)
		s.fail(ErrHeartbeatTimeout)
		return
	}
	if !s.hb.due(now) {
		return
	}
	if err := s.send(s.hb.next(now, s.dropped)); err != nil {
		s.fail(err)
	}
}

func (s *Session) logonRequest() *dtc.LogonRequest {
	return &dtc.LogonRequest{
		ProtocolVersion:            dtc.ProtocolVersion,
		Username:                   s.cfg.Username,
		Password:                   s.cfg.Password,
		GeneralTextData:            s.cfg.ClientName,
		HeartbeatIntervalInSeconds: int32(s.cfg.HeartbeatInterval / time.Second),
		TradeMode:                  s.cfg.TradeMode,
	}
}

// useEncoding switches codec and framer after negotiation, carrying over
// bytes that arrived behind the EncodingResponse.
func (s *Session) useEncoding(enc dtc.Encoding) error {
	if enc == s.codec.Encoding() {
		return nil
	}
	codec, err := dtc.NewCodec(enc)
	if err != nil {
		return err
	}
	framer, err := dtc.NewFramer(enc, s.cfg.MaxFrameSize)
	if err != nil {
		return err
	}
	framer.Feed(s.framer.Reset())
	s.codec = codec
	s.framer = framer
	return nil
}

func (s *Session) send(msg dtc.Message) error {
	b, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.Send(b)
}

// fail reports a fatal error and tears the session down.
func (s *Session) fail(err error) {
	if s.closed() {
		return
	}
	s.logger.Warn("dtc session failed", "state", s.State(), "err", err)
	s.emit(Event{Kind: EventError, Err: err})
	s.teardown(err)
}

// teardown closes the session exactly once. A nil cause means Disconnect.
func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.hb.stop()
		if s.conn != nil {
			s.conn.Close()
		}

		closedErr := cause
		if !s.authenticated {
			var rej *LogonRejectedError
			var herr *HandshakeError
			switch {
			case errors.As(cause, &herr):
			case errors.As(cause, &rej):
				closedErr = &HandshakeError{State: AwaitingLogon, Err: cause}
			default:
				if cause == nil {
					cause = ErrSessionClosed
				}
				closedErr = &HandshakeError{State: s.State(), Err: cause}
			}
			s.resolveConnect(closedErr)
		}

		if s.State() != Failed {
			s.setState(Disconnected)
		}
		s.logger.Debug("dtc session closed", "err", closedErr)

		s.emit(Event{Kind: EventClosed, Err: closedErr})
		s.events.Close()
		close(s.done)
	})
}

func (s *Session) resolveConnect(err error) {
	s.resolveOnce.Do(func() {
		s.connectResult <- err
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.events.Push(ev)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// pump moves events from the unbounded queue to the Events channel in order.
func (s *Session) pump() {
	defer close(s.out)
	for {
		ev, err := s.events.Pop(context.Background())
		if err != nil {
			return
		}
		s.out <- ev
	}
}

// String identifies the session in logs.
func (s *Session) String() string {
	return "dtc session " + s.id.String() + " " + s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
}
