package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rickgao/dtc-feed/internal/connection"
	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/dtc/dtctest"
)

const waitTimeout = 2 * time.Second

func startServer(t *testing.T, opts ...dtctest.Option) *dtctest.Server {
	t.Helper()
	srv, err := dtctest.NewServer("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(host string, port int) Config {
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Username = "trader"
	cfg.Password = "secret"
	cfg.ConnectTimeout = time.Second
	cfg.HandshakeGrace = time.Second
	cfg.HeartbeatTimeout = -1
	return cfg
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s := New(cfg, nil)
	t.Cleanup(s.Disconnect)
	return s
}

// connected returns an authenticated session and the server side of it.
func connected(t *testing.T, srv *dtctest.Server, mutate ...func(*Config)) (*Session, *dtctest.Conn) {
	t.Helper()
	cfg := testConfig(srv.Host(), srv.Port())
	for _, m := range mutate {
		m(&cfg)
	}
	s := newSession(t, cfg)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn, err := srv.Accept(waitTimeout)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	nextEvent(t, s, EventAuthenticated)
	return s, conn
}

// nextEvent skips events until one of kind arrives.
func nextEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", kind)
		}
	}
}

// noEvent fails if an event of kind arrives within d.
func noEvent(t *testing.T, s *Session, kind EventKind, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func subscribe(t *testing.T, s *Session, conn *dtctest.Conn, symbol, exchange string) uint16 {
	t.Helper()
	id, err := s.Subscribe(context.Background(), symbol, exchange)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, ok := conn.Expect(dtc.TypeMarketDataRequest, waitTimeout); !ok {
		t.Fatal("server did not receive MarketDataRequest")
	}
	return id
}

func TestSession_Handshake(t *testing.T) {
	srv := startServer(t, dtctest.WithLogonDelay(100*time.Millisecond))
	s, conn := connected(t, srv)

	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}

	msg, ok := conn.Receive(waitTimeout)
	if !ok {
		t.Fatal("no EncodingRequest")
	}
	enc, isEnc := msg.(*dtc.EncodingRequest)
	if !isEnc {
		t.Fatalf("first message = %T, want *dtc.EncodingRequest", msg)
	}
	if enc.ProtocolVersion != 8 || enc.ProtocolType != "DTC" || enc.Encoding != dtc.EncodingBinary {
		t.Errorf("EncodingRequest = %+v", enc)
	}

	msg, ok = conn.Receive(waitTimeout)
	if !ok {
		t.Fatal("no LogonRequest")
	}
	logon, isLogon := msg.(*dtc.LogonRequest)
	if !isLogon {
		t.Fatalf("second message = %T, want *dtc.LogonRequest", msg)
	}
	if logon.Username != "trader" || logon.Password != "secret" {
		t.Errorf("credentials = %q/%q", logon.Username, logon.Password)
	}
	if logon.HeartbeatIntervalInSeconds != 30 {
		t.Errorf("HeartbeatIntervalInSeconds = %d, want 30", logon.HeartbeatIntervalInSeconds)
	}

	// Exactly one LogonRequest.
	if _, ok := conn.Expect(dtc.TypeLogonRequest, 200*time.Millisecond); ok {
		t.Error("second LogonRequest sent")
	}
}

func TestSession_LogonRejected(t *testing.T) {
	srv := startServer(t, dtctest.WithLogonResult(dtc.LogonError, "bad password"))
	s := newSession(t, testConfig(srv.Host(), srv.Port()))

	err := s.Connect(context.Background())
	var rej *LogonRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("Connect() error = %v, want *LogonRejectedError", err)
	}
	if rej.Code != 2 || rej.Text != "bad password" {
		t.Errorf("LogonRejectedError = %+v", rej)
	}

	ev := nextEvent(t, s, EventAuthFailed)
	if ev.Text != "bad password" {
		t.Errorf("authFailed text = %q", ev.Text)
	}
	closed := nextEvent(t, s, EventClosed)
	if !errors.Is(closed.Err, ErrHandshake) {
		t.Errorf("closed error = %v, want handshake error", closed.Err)
	}
	if s.State() != Failed {
		t.Errorf("State() = %v, want failed", s.State())
	}
}

func TestSession_SubscribeQuote(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	id := subscribe(t, s, conn, "ES", "CME")
	if id != 1 {
		t.Fatalf("Subscribe() = %d, want 1", id)
	}

	conn.Send(&dtc.MarketDataSnapshot{SymbolID: 1, LastTradePrice: 4500.25, BidPrice: 4500, AskPrice: 4500.5, LastTradeVolume: 1})
	ev := nextEvent(t, s, EventQuote)
	if ev.Symbol != "ES" || ev.Exchange != "CME" || ev.SubscriptionID != 1 {
		t.Errorf("quote = %+v", ev)
	}
	if ev.Quote.Last != 4500.25 || ev.Quote.Kind != QuoteSnapshot {
		t.Errorf("Quote = %+v", ev.Quote)
	}

	conn.Send(&dtc.MarketDataUpdateTrade{SymbolID: 1, Price: 4501, Volume: 3})
	ev = nextEvent(t, s, EventQuote)
	want := Quote{Kind: QuoteTrade, Last: 4501, Bid: 4500, Ask: 4500.5, Volume: 3}
	if ev.Quote != want {
		t.Errorf("merged Quote = %+v, want %+v", ev.Quote, want)
	}

	conn.Send(&dtc.MarketDataUpdateBidAsk{SymbolID: 1, BidPrice: 4501, AskPrice: 4501.25})
	ev = nextEvent(t, s, EventQuote)
	if ev.Quote.Bid != 4501 || ev.Quote.Ask != 4501.25 || ev.Quote.Last != 4501 {
		t.Errorf("merged Quote = %+v", ev.Quote)
	}
}

func TestSession_PartialSnapshotWaits(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)
	subscribe(t, s, conn, "ES", "CME")

	frame, _ := dtc.BinaryCodec{}.Encode(&dtc.MarketDataSnapshot{SymbolID: 1, LastTradePrice: 4500.25})
	conn.WriteRaw(frame[:60])
	noEvent(t, s, EventQuote, 150*time.Millisecond)

	conn.WriteRaw(frame[60:])
	ev := nextEvent(t, s, EventQuote)
	if ev.Quote.Last != 4500.25 {
		t.Errorf("Last = %v, want 4500.25", ev.Quote.Last)
	}
}

func TestSession_UnknownMessageIgnored(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)
	subscribe(t, s, conn, "ES", "CME")

	unknown := make([]byte, 12)
	unknown[0] = 12
	unknown[2], unknown[3] = 0x0F, 0x27 // 9999
	snapshot, _ := dtc.BinaryCodec{}.Encode(&dtc.MarketDataSnapshot{SymbolID: 1, LastTradePrice: 1})
	conn.WriteRaw(append(unknown, snapshot...))

	ev := nextEvent(t, s, EventQuote)
	if ev.Symbol != "ES" {
		t.Errorf("quote symbol = %q", ev.Symbol)
	}
	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
}

func TestSession_MalformedFrameAfterAuth(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)
	subscribe(t, s, conn, "ES", "CME")

	// A truncated snapshot is dropped, the feed keeps going.
	short := make([]byte, 20)
	short[0] = 20
	short[2] = byte(dtc.TypeMarketDataSnapshot)
	conn.WriteRaw(short)

	ev := nextEvent(t, s, EventError)
	if !errors.Is(ev.Err, dtc.ErrTruncated) {
		t.Errorf("error event = %v, want ErrTruncated", ev.Err)
	}

	conn.Send(&dtc.MarketDataSnapshot{SymbolID: 1, LastTradePrice: 2})
	nextEvent(t, s, EventQuote)
}

func TestSession_ProtocolViolationAfterAuth(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	conn.Send(&dtc.EncodingResponse{ProtocolVersion: 8})
	ev := nextEvent(t, s, EventError)
	var verr *ProtocolViolationError
	if !errors.As(ev.Err, &verr) {
		t.Fatalf("error event = %v, want *ProtocolViolationError", ev.Err)
	}
	if verr.Type != dtc.TypeEncodingResponse {
		t.Errorf("Type = %v", verr.Type)
	}
	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
}

func TestSession_Reject(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)
	id := subscribe(t, s, conn, "NOPE", "CME")

	conn.Send(&dtc.MarketDataReject{SymbolID: id, RejectText: "symbol not found"})
	ev := nextEvent(t, s, EventReject)
	if ev.Symbol != "NOPE" || ev.Text != "symbol not found" {
		t.Errorf("reject = %+v", ev)
	}
	var rerr *MarketDataRejectedError
	if !errors.As(ev.Err, &rerr) || rerr.SubscriptionID != id {
		t.Errorf("reject error = %v", ev.Err)
	}

	// A rejected subscription produces no quotes.
	conn.Send(&dtc.MarketDataSnapshot{SymbolID: id, LastTradePrice: 1})
	noEvent(t, s, EventQuote, 150*time.Millisecond)
}

func TestSession_Unsubscribe(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)
	id := subscribe(t, s, conn, "ES", "CME")

	if err := s.Unsubscribe(context.Background(), id); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	msg, ok := conn.Expect(dtc.TypeMarketDataRequest, waitTimeout)
	if !ok {
		t.Fatal("no unsubscribe request")
	}
	req := msg.(*dtc.MarketDataRequest)
	if req.RequestAction != dtc.RequestUnsubscribe || req.SymbolID != id || req.Symbol != "ES" {
		t.Errorf("unsubscribe request = %+v", req)
	}

	conn.Send(&dtc.MarketDataSnapshot{SymbolID: id, LastTradePrice: 1})
	noEvent(t, s, EventQuote, 150*time.Millisecond)

	if err := s.Unsubscribe(context.Background(), id); !errors.Is(err, ErrUnknownSubscription) {
		t.Errorf("second Unsubscribe() error = %v, want ErrUnknownSubscription", err)
	}

	subs, err := s.Subscriptions(context.Background())
	if err != nil || len(subs) != 1 || subs[0].Active {
		t.Errorf("Subscriptions() = %+v, %v", subs, err)
	}
}

func TestSession_SecurityDefinition(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	reqID, err := s.RequestSecurityDefinition(context.Background(), "NQ", "CME")
	if err != nil {
		t.Fatalf("RequestSecurityDefinition() error = %v", err)
	}
	msg, ok := conn.Expect(dtc.TypeSecurityDefinitionForSymbolRequest, waitTimeout)
	if !ok {
		t.Fatal("no security definition request")
	}
	if req := msg.(*dtc.SecurityDefinitionForSymbolRequest); req.RequestID != reqID || req.Symbol != "NQ" {
		t.Errorf("request = %+v", req)
	}

	conn.Send(&dtc.SecurityDefinitionResponse{RequestID: reqID, Symbol: "NQ", Exchange: "CME", Description: "E-mini Nasdaq"})
	ev := nextEvent(t, s, EventSecurityDefinition)
	if ev.Definition.Description != "E-mini Nasdaq" || ev.Definition.RequestID != reqID {
		t.Errorf("definition = %+v", ev.Definition)
	}
}

func TestSession_ServerLog(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	conn.Send(&dtc.GeneralLogMessage{MessageText: "data feed restored"})
	ev := nextEvent(t, s, EventServerLog)
	if ev.Text != "data feed restored" {
		t.Errorf("Text = %q", ev.Text)
	}
}

func TestSession_Disconnect(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	s.Disconnect()
	s.Disconnect()

	msg, ok := conn.Expect(dtc.TypeLogoff, waitTimeout)
	if !ok {
		t.Fatal("no Logoff sent")
	}
	if reason := msg.(*dtc.Logoff).Reason; reason != "Client disconnect" {
		t.Errorf("Logoff reason = %q", reason)
	}

	ev := nextEvent(t, s, EventClosed)
	if ev.Err != nil {
		t.Errorf("closed error = %v, want nil", ev.Err)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel still open after closed")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}

	if _, err := s.Subscribe(context.Background(), "ES", "CME"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe() after Disconnect error = %v, want ErrSessionClosed", err)
	}
}

func TestSession_RemoteClose(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	conn.Close()

	ev := nextEvent(t, s, EventClosed)
	if ev.Err == nil {
		t.Fatal("closed error = nil for remote close")
	}
	if errors.Is(ev.Err, ErrHandshake) {
		t.Errorf("closed error = %v, should not be a handshake error", ev.Err)
	}
}

func TestSession_RemoteLogoff(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	conn.Send(&dtc.Logoff{Reason: "maintenance", DoNotReconnect: 1})

	ev := nextEvent(t, s, EventClosed)
	var lerr *RemoteLogoffError
	if !errors.As(ev.Err, &lerr) {
		t.Fatalf("closed error = %v, want *RemoteLogoffError", ev.Err)
	}
	if lerr.Reason != "maintenance" || !lerr.DoNotReconnect {
		t.Errorf("RemoteLogoffError = %+v", lerr)
	}
}

func TestSession_ClosedOnce(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv)

	// Race a remote close with an explicit disconnect.
	go conn.Close()
	s.Disconnect()

	var closed int
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				if closed != 1 {
					t.Errorf("closed events = %d, want 1", closed)
				}
				return
			}
			if ev.Kind == EventClosed {
				closed++
			}
		case <-deadline:
			t.Fatal("events channel not closed")
		}
	}
}

func TestSession_HandshakeRemoteClose(t *testing.T) {
	srv := startServer(t, dtctest.WithoutHandshake(), dtctest.WithHandler(func(c *dtctest.Conn, msg dtc.Message) {
		c.Close()
	}))
	s := newSession(t, testConfig(srv.Host(), srv.Port()))

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("Connect() error = %v, want handshake error", err)
	}
	var herr *HandshakeError
	if errors.As(err, &herr) && herr.State != AwaitingEncoding {
		t.Errorf("HandshakeError.State = %v, want awaiting_encoding", herr.State)
	}
	nextEvent(t, s, EventClosed)
}

func TestSession_HandshakeTimeout(t *testing.T) {
	srv := startServer(t, dtctest.WithoutHandshake())
	cfg := testConfig(srv.Host(), srv.Port())
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.HandshakeGrace = 100 * time.Millisecond
	s := newSession(t, cfg)

	start := time.Now()
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) || !errors.Is(err, ErrHandshake) {
		t.Fatalf("Connect() error = %v, want handshake timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect took %v", elapsed)
	}
	nextEvent(t, s, EventClosed)
}

func TestSession_HandshakeBudgetIncludesDial(t *testing.T) {
	srv := startServer(t, dtctest.WithoutHandshake())
	cfg := testConfig(srv.Host(), srv.Port())
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.HandshakeGrace = 200 * time.Millisecond
	s := newSession(t, cfg)
	s.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		select {
		case <-time.After(400 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}

	start := time.Now()
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Connect() error = %v, want handshake timeout", err)
	}
	// 700ms from Connect, not 700ms after the 400ms dial.
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Connect took %v, want under connect timeout plus grace", elapsed)
	}
	nextEvent(t, s, EventClosed)
}

func TestSession_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	p, _ := strconv.Atoi(port)

	s := newSession(t, testConfig("127.0.0.1", p))
	err = s.Connect(context.Background())

	var ioErr *connection.IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Connect() error = %v, want *connection.IoError", err)
	}
	ev := nextEvent(t, s, EventClosed)
	if !errors.Is(ev.Err, ErrHandshake) {
		t.Errorf("closed error = %v, want handshake error", ev.Err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_HeartbeatSent(t *testing.T) {
	srv := startServer(t)
	_, conn := connected(t, srv, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
	})

	msg, ok := conn.Expect(dtc.TypeHeartbeat, waitTimeout)
	if !ok {
		t.Fatal("no heartbeat sent")
	}
	if hb := msg.(*dtc.Heartbeat); hb.CurrentDateTime == 0 {
		t.Error("heartbeat without timestamp")
	}
}

func TestSession_HeartbeatTimeout(t *testing.T) {
	srv := startServer(t)
	s, _ := connected(t, srv, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = 120 * time.Millisecond
	})

	ev := nextEvent(t, s, EventClosed)
	if !errors.Is(ev.Err, ErrHeartbeatTimeout) {
		t.Errorf("closed error = %v, want ErrHeartbeatTimeout", ev.Err)
	}
}

func TestSession_HeartbeatTimeoutShorterThanInterval(t *testing.T) {
	srv := startServer(t)
	s, _ := connected(t, srv, func(c *Config) {
		c.HeartbeatInterval = time.Hour
		c.HeartbeatTimeout = 100 * time.Millisecond
	})

	ev := nextEvent(t, s, EventClosed)
	if !errors.Is(ev.Err, ErrHeartbeatTimeout) {
		t.Errorf("closed error = %v, want ErrHeartbeatTimeout", ev.Err)
	}
}

func TestSession_SmallFrameCapStillAuthenticates(t *testing.T) {
	srv := startServer(t)
	s, _ := connected(t, srv, func(c *Config) {
		c.MaxFrameSize = 64
	})

	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
}

func TestSession_HeartbeatKeepsAlive(t *testing.T) {
	srv := startServer(t)
	s, conn := connected(t, srv, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = 150 * time.Millisecond
	})

	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(30 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			conn.Send(&dtc.Heartbeat{CurrentDateTime: time.Now().Unix()})
		case <-stop:
			break loop
		}
	}

	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated while heartbeats flow", s.State())
	}
	if s.LastHeartbeat().IsZero() {
		t.Error("LastHeartbeat() is zero")
	}
}

func TestSession_JSONEncoding(t *testing.T) {
	srv := startServer(t, dtctest.WithEncoding(dtc.EncodingJSON))
	s, conn := connected(t, srv, func(c *Config) {
		c.Encoding = dtc.EncodingJSON
	})
	subscribe(t, s, conn, "ES", "CME")

	conn.Send(&dtc.MarketDataSnapshot{SymbolID: 1, LastTradePrice: 4500.25})
	ev := nextEvent(t, s, EventQuote)
	if ev.Symbol != "ES" || ev.Quote.Last != 4500.25 {
		t.Errorf("quote = %+v", ev)
	}
}

func TestSession_SubscribeBeforeConnect(t *testing.T) {
	s := New(DefaultConfig(), nil)
	defer s.Disconnect()

	if _, err := s.Subscribe(context.Background(), "ES", "CME"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Subscribe() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{HeartbeatInterval: 10 * time.Second}.withDefaults()

	if cfg.HeartbeatTimeout != 25*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 25s", cfg.HeartbeatTimeout)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.MaxFrameSize != dtc.DefaultMaxFrameSize {
		t.Errorf("MaxFrameSize = %d", cfg.MaxFrameSize)
	}

	disabled := Config{HeartbeatTimeout: -1}.withDefaults()
	if disabled.HeartbeatTimeout >= 0 {
		t.Errorf("HeartbeatTimeout = %v, want negative (disabled)", disabled.HeartbeatTimeout)
	}
}
