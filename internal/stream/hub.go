package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
)

// Message types sent to clients.
const (
	TypeQuote        = "quote"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
)

// Message is the envelope for every frame sent to a client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Time int64  `json:"time"` // µs since epoch
}

// command is a client request.
type command struct {
	Action string   `json:"action"`
	Keys   []string `json:"keys"`
}

// Config holds hub configuration.
type Config struct {
	MaxClients   int           // Concurrent client limit (default: 100)
	SendBuffer   int           // Per-client queued messages (default: 256)
	WriteTimeout time.Duration // Per-write deadline (default: 10s)
	PongTimeout  time.Duration // Read deadline refreshed by pongs (default: 60s)
	PingInterval time.Duration // Must be below PongTimeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxClients:   100,
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	return c
}

// Stats holds hub counters.
type Stats struct {
	Clients  int   `json:"clients"`
	Sent     int64 `json:"sent"`
	Kicked   int64 `json:"kicked"`
	Rejected int64 `json:"rejected"`
}

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("hub stopped")

// Hub broadcasts quotes to WebSocket clients. It implements http.Handler.
type Hub struct {
	cfg      Config
	input    *queue.Queue[model.Quote]
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	stopped bool

	sent     atomic.Int64
	kicked   atomic.Int64
	rejected atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub reading from input.
func NewHub(cfg Config, input *queue.Queue[model.Quote], logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg.withDefaults(),
		input:  input,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start begins pumping quotes from the input queue.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrStopped
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.pump(ctx)

	h.logger.Info("stream hub started", "max_clients", h.cfg.MaxClients)
	return nil
}

// Stop disconnects every client and stops the pump.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("stream hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	return Stats{
		Clients:  n,
		Sent:     h.sent.Load(),
		Kicked:   h.kicked.Load(),
		Rejected: h.rejected.Load(),
	}
}

func (h *Hub) pump(ctx context.Context) {
	defer h.wg.Done()
	for {
		q, err := h.input.Pop(ctx)
		if err != nil {
			return
		}
		h.Broadcast(q)
	}
}

// Broadcast sends q to every client whose filter matches.
func (h *Hub) Broadcast(q model.Quote) {
	data, err := json.Marshal(Message{Type: TypeQuote, Data: q, Time: time.Now().UnixMicro()})
	if err != nil {
		h.logger.Error("marshal quote", "err", err)
		return
	}
	key := q.Key()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(key) {
			continue
		}
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			h.removeLocked(c)
			h.kicked.Add(1)
			h.logger.Warn("stream client too slow, disconnecting", "remote", c.remote)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := h.stopped || len(h.clients) >= h.cfg.MaxClients
	h.mu.Unlock()
	if full {
		h.rejected.Add(1)
		http.Error(w, "stream at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		keys:   make(map[string]struct{}),
		remote: r.RemoteAddr,
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("stream client connected", "remote", c.remote, "clients", count)

	go h.writePump(c)
	go h.readPump(c)
}

// removeLocked drops c and closes its send channel. h.mu must be held.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client disconnected", "remote", c.remote, "clients", count)
}

// reply queues a control message for c without blocking.
func (h *Hub) reply(c *client, typ string, keys []string) {
	data, err := json.Marshal(Message{Type: typ, Data: keys, Time: time.Now().UnixMicro()})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.wg.Done()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream client read error", "remote", c.remote, "err", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.subscribe(cmd.Keys)
			h.reply(c, TypeSubscribed, c.filter())
		case "unsubscribe":
			c.unsubscribe(cmd.Keys)
			h.reply(c, TypeUnsubscribed, c.filter())
		}
	}
}
