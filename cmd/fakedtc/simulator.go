package main

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/dtc-feed/internal/dtc"
	"github.com/rickgao/dtc-feed/internal/dtc/dtctest"
)

const tickSize = 0.25

// instrument is the simulated market of one subscription.
type instrument struct {
	symbol   string
	exchange string
	last     float64
	bid      float64
	ask      float64
}

// simulator answers market data requests and random-walks every
// subscribed instrument.
type simulator struct {
	logger *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	conns map[*dtctest.Conn]map[uint16]*instrument
}

func newSimulator(logger *slog.Logger, seed int64) *simulator {
	return &simulator{
		logger: logger,
		rng:    rand.New(rand.NewPCG(uint64(seed), 0)),
		conns:  make(map[*dtctest.Conn]map[uint16]*instrument),
	}
}

// startPrice derives a stable price from the symbol so restarts look alike.
func startPrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return roundTick(100 + float64(h.Sum32()%490000)/100)
}

func roundTick(p float64) float64 {
	return math.Round(p/tickSize) * tickSize
}

func (s *simulator) handle(c *dtctest.Conn, msg dtc.Message) {
	switch m := msg.(type) {
	case *dtc.MarketDataRequest:
		s.marketData(c, m)

	case *dtc.SecurityDefinitionForSymbolRequest:
		c.Send(&dtc.SecurityDefinitionResponse{
			RequestID:   m.RequestID,
			Symbol:      m.Symbol,
			Exchange:    m.Exchange,
			Description: "Simulated " + m.Symbol,
		})

	case *dtc.Heartbeat:
		c.Send(&dtc.Heartbeat{CurrentDateTime: time.Now().Unix()})

	case *dtc.Logoff:
		s.logger.Info("client logged off", "reason", m.Reason)
		s.drop(c)
		c.Close()
	}
}

func (s *simulator) marketData(c *dtctest.Conn, req *dtc.MarketDataRequest) {
	s.mu.Lock()
	subs, ok := s.conns[c]
	if !ok {
		subs = make(map[uint16]*instrument)
		s.conns[c] = subs
		go func() {
			<-c.Done()
			s.drop(c)
		}()
	}

	switch req.RequestAction {
	case dtc.RequestSubscribe, dtc.RequestSnapshot:
		if req.Symbol == "" {
			s.mu.Unlock()
			c.Send(&dtc.MarketDataReject{SymbolID: req.SymbolID, RejectText: "symbol is required"})
			return
		}
		in, exists := subs[req.SymbolID]
		if !exists {
			p := startPrice(req.Symbol)
			in = &instrument{symbol: req.Symbol, exchange: req.Exchange, last: p, bid: p - tickSize, ask: p}
			if req.RequestAction == dtc.RequestSubscribe {
				subs[req.SymbolID] = in
			}
		}
		snap := &dtc.MarketDataSnapshot{
			SymbolID:        req.SymbolID,
			LastTradePrice:  in.last,
			LastTradeVolume: 1,
			BidPrice:        in.bid,
			AskPrice:        in.ask,
		}
		s.mu.Unlock()
		c.Send(snap)
		s.logger.Info("subscribed", "symbol", req.Symbol, "exchange", req.Exchange, "id", req.SymbolID)

	case dtc.RequestUnsubscribe:
		delete(subs, req.SymbolID)
		s.mu.Unlock()

	default:
		s.mu.Unlock()
	}
}

func (s *simulator) drop(c *dtctest.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *simulator) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

type outbound struct {
	conn *dtctest.Conn
	msg  dtc.Message
}

// tick moves every instrument by at most one tick and sends either a trade
// or a bid/ask update.
func (s *simulator) tick() {
	var out []outbound

	s.mu.Lock()
	for c, subs := range s.conns {
		for id, in := range subs {
			out = append(out, outbound{conn: c, msg: s.step(id, in)})
		}
	}
	s.mu.Unlock()

	for _, o := range out {
		o.conn.Send(o.msg)
	}
}

// step advances one instrument. s.mu must be held.
func (s *simulator) step(id uint16, in *instrument) dtc.Message {
	move := float64(s.rng.IntN(3)-1) * tickSize
	in.bid = roundTick(in.bid + move)
	in.ask = in.bid + tickSize

	if s.rng.IntN(2) == 0 {
		if s.rng.IntN(2) == 0 {
			in.last = in.bid
		} else {
			in.last = in.ask
		}
		return &dtc.MarketDataUpdateTrade{SymbolID: id, Price: in.last, Volume: float64(1 + s.rng.IntN(20))}
	}
	return &dtc.MarketDataUpdateBidAsk{SymbolID: id, BidPrice: in.bid, AskPrice: in.ask}
}
