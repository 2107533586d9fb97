package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
	"github.com/rickgao/dtc-feed/internal/session"
)

// Router turns feed events into quotes and fans them out to the latest-quote
// store, the recorder and the broadcaster.
type Router interface {
	// Start begins routing events from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Buffers returns output buffers for consumers.
	Buffers() RouterBuffers

	// Definitions returns security definitions received so far.
	Definitions() []model.SecurityDefinition

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	// Input from the feed manager
	input <-chan session.Event
	store QuoteStore

	// Outputs
	recordBuf    *queue.Queue[model.Quote]
	broadcastBuf *queue.Queue[model.Quote]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	received       int64
	routed         int64
	rejects        int64
	errors         int64
	storeErrors    int64
	sessionsClosed int64
	definitions    map[string]model.SecurityDefinition
}

// NewRouter creates a new Quote Router. store may be nil.
func NewRouter(cfg RouterConfig, input <-chan session.Event, store QuoteStore, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:          cfg,
		logger:       logger,
		input:        input,
		store:        store,
		recordBuf:    queue.New[model.Quote](cfg.RecordBufferSize, 0),
		broadcastBuf: queue.New[model.Quote](cfg.BroadcastBufferSize, cfg.BroadcastLimit),
		definitions:  make(map[string]model.SecurityDefinition),
	}
}

// Start begins routing events.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("quote router started",
		"record_buffer", r.cfg.RecordBufferSize,
		"broadcast_buffer", r.cfg.BroadcastBufferSize,
		"broadcast_limit", r.cfg.BroadcastLimit,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping quote router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutine to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("quote router stopped")
	case <-ctx.Done():
		r.logger.Warn("quote router stop timed out")
	}

	// Consumers drain what is left, then see ErrClosed.
	r.recordBuf.Close()
	r.broadcastBuf.Close()

	return nil
}

// Buffers returns output buffers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Record:    r.recordBuf,
		Broadcast: r.broadcastBuf,
	}
}

// Definitions returns the latest definition per instrument.
func (r *router) Definitions() []model.SecurityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.SecurityDefinition, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d)
	}
	return out
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		EventsReceived: r.received,
		QuotesRouted:   r.routed,
		Rejects:        r.rejects,
		Errors:         r.errors,
		StoreErrors:    r.storeErrors,
		Definitions:    int64(len(r.definitions)),
		SessionsClosed: r.sessionsClosed,
		RecordBuffer:   r.recordBuf.Stats(),
		BroadcastBuf:   r.broadcastBuf.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(ev)
		}
	}
}

// route handles a single event.
func (r *router) route(ev session.Event) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	switch ev.Kind {
	case session.EventQuote:
		q := QuoteFromEvent(ev)
		if r.store != nil {
			if err := r.store.Put(r.ctx, q); err != nil {
				r.logger.Warn("failed to store quote", "key", q.Key(), "error", err)
				r.mu.Lock()
				r.storeErrors++
				r.mu.Unlock()
			}
		}
		if !r.cfg.DisableRecord {
			r.recordBuf.Push(q)
		}
		r.broadcastBuf.Push(q)

		r.mu.Lock()
		r.routed++
		r.mu.Unlock()

	case session.EventReject:
		r.mu.Lock()
		r.rejects++
		r.mu.Unlock()

	case session.EventError:
		r.mu.Lock()
		r.errors++
		r.mu.Unlock()

	case session.EventSecurityDefinition:
		d := model.SecurityDefinition{
			RequestID:   ev.Definition.RequestID,
			Symbol:      ev.Definition.Symbol,
			Exchange:    ev.Definition.Exchange,
			Description: ev.Definition.Description,
		}
		r.mu.Lock()
		r.definitions[model.InstrumentKey(d.Symbol, d.Exchange)] = d
		r.mu.Unlock()

	case session.EventClosed:
		r.mu.Lock()
		r.sessionsClosed++
		r.mu.Unlock()

	default:
		r.logger.Debug("skipping event", "kind", ev.Kind)
	}
}

// QuoteFromEvent converts a quote event to the shared model.
func QuoteFromEvent(ev session.Event) model.Quote {
	return model.Quote{
		SessionID:      ev.SessionID,
		SubscriptionID: ev.SubscriptionID,
		Symbol:         ev.Symbol,
		Exchange:       ev.Exchange,
		Kind:           string(ev.Quote.Kind),
		Last:           ev.Quote.Last,
		Bid:            ev.Quote.Bid,
		Ask:            ev.Quote.Ask,
		Volume:         ev.Quote.Volume,
		ReceivedAt:     ev.At.UnixMicro(),
	}
}
