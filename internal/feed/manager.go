package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/session"
)

// Errors
var (
	ErrAlreadyStarted    = errors.New("feed already started")
	ErrNotConnected      = errors.New("feed not connected")
	ErrInvalidInstrument = errors.New("symbol is required")
)

// Manager keeps one DTC session connected and subscribed.
type Manager interface {
	// Start begins connecting in the background.
	Start(ctx context.Context) error

	// Stop logs off and waits for the current session to close.
	Stop(ctx context.Context) error

	// Events returns the events of every session, closed after Stop.
	Events() <-chan session.Event

	// Add subscribes an instrument now if connected, and on every later session.
	Add(ctx context.Context, symbol, exchange string) error

	// Remove unsubscribes an instrument and forgets it.
	Remove(ctx context.Context, symbol, exchange string) error

	// Subscriptions lists the desired instruments and their state on the
	// current session.
	Subscriptions() []model.Subscription

	// RequestSecurityDefinition forwards to the current session.
	RequestSecurityDefinition(ctx context.Context, symbol, exchange string) (int32, error)

	// Status returns connection state and reconnect statistics.
	Status() model.FeedStatus
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// Output channel, shared by all sessions
	out chan session.Event

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Current session and desired subscriptions
	mu   sync.Mutex
	sess *session.Session
	subs map[string]*desired

	// Status
	statusMu sync.RWMutex
	state    string // set while no session is in play
	attempts int
	lastErr  string
	sessions int64
	dropped  atomic.Int64
}

// NewManager creates a new feed manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &manager{
		cfg:    cfg,
		logger: logger,
		out:    make(chan session.Event, cfg.OutputBufferSize),
		subs:   make(map[string]*desired),
		state:  "idle",
	}
	for _, in := range cfg.Subscriptions {
		if in.Symbol == "" {
			continue
		}
		m.subs[model.InstrumentKey(in.Symbol, in.Exchange)] = &desired{Instrument: in}
	}
	return m
}

// Start begins the reconnect loop.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	n := len(m.subs)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("feed manager started",
		"host", m.cfg.Session.Host,
		"port", m.cfg.Session.Port,
		"subscriptions", n,
	)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping feed manager")

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	// Wait for the loop with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("feed shutdown timeout")
		return ctx.Err()
	}

	m.closeOnce.Do(func() { close(m.out) })
	m.logger.Info("feed manager stopped")
	return nil
}

// Events returns the output channel.
func (m *manager) Events() <-chan session.Event {
	return m.out
}

// Add subscribes an instrument.
func (m *manager) Add(ctx context.Context, symbol, exchange string) error {
	if symbol == "" {
		return ErrInvalidInstrument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.InstrumentKey(symbol, exchange)
	d, ok := m.subs[key]
	if !ok {
		d = &desired{Instrument: Instrument{Symbol: symbol, Exchange: exchange}}
		m.subs[key] = d
	}
	if d.id != 0 || m.sess == nil || m.sess.State() != session.Authenticated {
		// Picked up by the next resubscribe.
		return nil
	}
	return m.subscribeLocked(ctx, m.sess, d)
}

// Remove unsubscribes an instrument.
func (m *manager) Remove(ctx context.Context, symbol, exchange string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.InstrumentKey(symbol, exchange)
	d, ok := m.subs[key]
	if !ok {
		return session.ErrUnknownSubscription
	}
	delete(m.subs, key)

	if d.id == 0 || m.sess == nil {
		return nil
	}
	err := m.sess.Unsubscribe(ctx, d.id)
	if errors.Is(err, session.ErrSessionClosed) || errors.Is(err, session.ErrNotAuthenticated) {
		return nil
	}
	return err
}

// Subscriptions lists desired instruments sorted by key.
func (m *manager) Subscriptions() []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]model.Subscription, 0, len(keys))
	for _, k := range keys {
		d := m.subs[k]
		out = append(out, model.Subscription{
			Symbol:     d.Symbol,
			Exchange:   d.Exchange,
			ID:         d.id,
			Active:     d.id != 0 && d.rejectText == "",
			RejectText: d.rejectText,
		})
	}
	return out
}

// RequestSecurityDefinition asks the current session for a definition.
func (m *manager) RequestSecurityDefinition(ctx context.Context, symbol, exchange string) (int32, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return 0, ErrNotConnected
	}
	return sess.RequestSecurityDefinition(ctx, symbol, exchange)
}

// Status returns current statistics.
func (m *manager) Status() model.FeedStatus {
	m.mu.Lock()
	sess := m.sess
	n := len(m.subs)
	m.mu.Unlock()

	m.statusMu.RLock()
	st := model.FeedStatus{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastErr,
		Sessions:          m.sessions,
		Subscriptions:     n,
	}
	m.statusMu.RUnlock()
	st.DroppedEvents = m.dropped.Load()

	if sess != nil {
		state := sess.State()
		if st.State == "" {
			st.State = state.String()
		}
		st.SessionID = sess.ID().String()
		st.Connected = state == session.Authenticated
		if hb := sess.LastHeartbeat(); !hb.IsZero() {
			st.LastHeartbeat = hb.UnixMicro()
		}
	}
	return st
}

// run creates sessions until stopped.
func (m *manager) run() {
	defer m.wg.Done()

	attempt := 0
	for {
		sess := m.newSession()
		forwarded := make(chan error, 1)
		go m.forward(sess, forwarded)

		err := sess.Connect(m.ctx)
		if err == nil {
			attempt = 0
			m.setAttempts(0)
			m.resubscribe(sess)

			select {
			case <-sess.Done():
			case <-m.ctx.Done():
				sess.Disconnect()
			}
		}
		closedErr := <-forwarded

		if m.ctx.Err() != nil {
			m.setState("stopped")
			return
		}

		cause := err
		if cause == nil {
			cause = closedErr
		}
		if cause == nil {
			cause = session.ErrSessionClosed
		}
		m.setError(cause)

		var logoff *session.RemoteLogoffError
		if errors.As(cause, &logoff) && logoff.DoNotReconnect {
			m.logger.Error("server asked not to reconnect, feed stopped", "reason", logoff.Reason)
			m.setState("stopped")
			return
		}

		delay := Backoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)
		attempt++
		m.setAttempts(attempt)
		m.setState("reconnecting")

		m.logger.Warn("dtc session lost, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"err", cause,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			timer.Stop()
			m.setState("stopped")
			return
		}
	}
}

// newSession replaces the current session. Ids from the old one are void.
func (m *manager) newSession() *session.Session {
	sess := session.New(m.cfg.Session, m.logger)

	m.mu.Lock()
	m.sess = sess
	for _, d := range m.subs {
		d.id = 0
		d.rejectText = ""
	}
	m.mu.Unlock()

	m.statusMu.Lock()
	m.state = ""
	m.sessions++
	m.statusMu.Unlock()

	return sess
}

// resubscribe subscribes every desired instrument not yet on sess.
func (m *manager) resubscribe(sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != sess {
		return
	}

	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		d := m.subs[k]
		if d.id != 0 {
			continue
		}
		if err := m.subscribeLocked(m.ctx, sess, d); err != nil {
			m.logger.Warn("subscribe failed",
				"symbol", d.Symbol,
				"exchange", d.Exchange,
				"error", err,
			)
			if errors.Is(err, session.ErrSessionClosed) || m.ctx.Err() != nil {
				return
			}
		}
	}
	m.logger.Info("subscriptions restored", "count", len(keys))
}

func (m *manager) subscribeLocked(ctx context.Context, sess *session.Session, d *desired) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SubscribeTimeout)
	defer cancel()

	id, err := sess.Subscribe(ctx, d.Symbol, d.Exchange)
	if err != nil {
		return err
	}
	d.id = id
	d.rejectText = ""
	return nil
}

// forward copies events of one session to the output and returns the
// closed error. Quotes are dropped when the output is full; every other
// event waits for the consumer until the manager stops.
func (m *manager) forward(sess *session.Session, done chan<- error) {
	var closedErr error
	for ev := range sess.Events() {
		switch ev.Kind {
		case session.EventReject:
			m.markRejected(sess, ev.SubscriptionID, ev.Text)
		case session.EventClosed:
			closedErr = ev.Err
		}

		if ev.Kind == session.EventQuote {
			m.offer(ev)
			continue
		}
		select {
		case m.out <- ev:
		case <-m.ctx.Done():
			m.offer(ev)
		}
	}
	done <- closedErr
}

// offer delivers ev if the output has room.
func (m *manager) offer(ev session.Event) {
	select {
	case m.out <- ev:
	default:
		m.dropped.Add(1)
		m.logger.Warn("feed output full, dropping event", "kind", ev.Kind)
	}
}

func (m *manager) markRejected(sess *session.Session, id uint16, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != sess {
		return
	}
	for _, d := range m.subs {
		if d.id == id {
			d.rejectText = text
			return
		}
	}
}

func (m *manager) setState(s string) {
	m.statusMu.Lock()
	m.state = s
	m.statusMu.Unlock()
}

func (m *manager) setAttempts(n int) {
	m.statusMu.Lock()
	m.attempts = n
	m.statusMu.Unlock()
}

func (m *manager) setError(err error) {
	m.statusMu.Lock()
	m.lastErr = err.Error()
	m.statusMu.Unlock()
}
