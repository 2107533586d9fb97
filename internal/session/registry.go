package session

import (
	"math"
	"sort"
)

// Subscription is one market data subscription on a session.
type Subscription struct {
	ID         uint16
	Symbol     string
	Exchange   string
	Active     bool
	RejectText string
	Quote      Quote
	Updates    int64
}

// Registry maps subscription ids to symbols. Ids start at 1, increase by one
// and are never reused. A Registry belongs to one session loop and is not
// safe for concurrent use.
type Registry struct {
	subs map[uint16]*Subscription
	last uint16
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint16]*Subscription)}
}

// Subscribe allocates the next id for symbol/exchange.
func (r *Registry) Subscribe(symbol, exchange string) (uint16, error) {
	if r.last == math.MaxUint16 {
		return 0, ErrSubscriptionIDsExhausted
	}
	r.last++
	r.subs[r.last] = &Subscription{
		ID:       r.last,
		Symbol:   symbol,
		Exchange: exchange,
		Active:   true,
	}
	return r.last, nil
}

// Resolve returns the symbol and exchange of an id, active or not.
func (r *Registry) Resolve(id uint16) (symbol, exchange string, ok bool) {
	s, ok := r.subs[id]
	if !ok {
		return "", "", false
	}
	return s.Symbol, s.Exchange, true
}

// Unsubscribe marks id inactive. It reports false for unknown or already
// inactive ids.
func (r *Registry) Unsubscribe(id uint16) bool {
	s, ok := r.subs[id]
	if !ok || !s.Active {
		return false
	}
	s.Active = false
	return true
}

// Reject marks id inactive and records the server's reason.
func (r *Registry) Reject(id uint16, text string) (Subscription, bool) {
	s, ok := r.subs[id]
	if !ok {
		return Subscription{}, false
	}
	s.Active = false
	s.RejectText = text
	return *s, true
}

// Apply updates the quote of an active subscription and returns a copy.
func (r *Registry) Apply(id uint16, update func(*Quote)) (Subscription, bool) {
	s, ok := r.subs[id]
	if !ok || !s.Active {
		return Subscription{}, false
	}
	update(&s.Quote)
	s.Updates++
	return *s, true
}

// List returns copies of all subscriptions ordered by id.
func (r *Registry) List() []Subscription {
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of subscriptions ever made.
func (r *Registry) Len() int { return len(r.subs) }
