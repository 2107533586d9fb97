package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/dtc-feed/internal/model"
)

// mockSource returns a fixed list of quotes.
type mockSource struct {
	quotes []model.Quote
}

func (m *mockSource) All(context.Context) []model.Quote {
	return m.quotes
}

func makeQuotes(n int) []model.Quote {
	quotes := make([]model.Quote, n)
	for i := range quotes {
		quotes[i] = model.Quote{
			Symbol:     "SYM" + string(rune('A'+i%26)),
			Exchange:   "CME",
			Last:       float64(i),
			ReceivedAt: int64(i),
		}
	}
	return quotes
}

func TestPoller_Poll(t *testing.T) {
	var mu sync.Mutex
	var got []model.QuoteSnapshot
	sink := SnapshotSinkFunc(func(_ context.Context, s []model.QuoteSnapshot) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s...)
		return nil
	})

	p := New(Config{Interval: time.Hour, ChunkSize: 2}, &mockSource{quotes: makeQuotes(5)}, sink, nil)
	fixed := time.UnixMicro(1705328200000000)
	p.now = func() time.Time { return fixed }

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Poll() = %d, want 5", n)
	}
	if len(got) != 5 {
		t.Fatalf("sink received %d snapshots, want 5", len(got))
	}
	for _, s := range got {
		if s.SnapshotTS != fixed.UnixMicro() {
			t.Errorf("SnapshotTS = %d, want %d", s.SnapshotTS, fixed.UnixMicro())
		}
	}

	st := p.Stats()
	if st.Cycles != 1 || st.Snapshots != 5 || st.Errors != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.LastCycle != fixed.UnixMicro() {
		t.Errorf("LastCycle = %d, want %d", st.LastCycle, fixed.UnixMicro())
	}
}

func TestPoller_PollEmpty(t *testing.T) {
	called := false
	sink := SnapshotSinkFunc(func(context.Context, []model.QuoteSnapshot) error {
		called = true
		return nil
	})

	p := New(DefaultConfig(), &mockSource{}, sink, nil)
	if n, err := p.Poll(context.Background()); n != 0 || err != nil {
		t.Errorf("Poll() = %d, %v; want 0, nil", n, err)
	}
	if called {
		t.Error("sink called with no quotes")
	}
}

func TestPoller_PollError(t *testing.T) {
	sink := SnapshotSinkFunc(func(context.Context, []model.QuoteSnapshot) error {
		return errors.New("db down")
	})

	p := New(Config{ChunkSize: 10, Concurrency: 1}, &mockSource{quotes: makeQuotes(3)}, sink, nil)
	n, err := p.Poll(context.Background())
	if err == nil {
		t.Fatal("Poll() error = nil, want db down")
	}
	if n != 0 {
		t.Errorf("Poll() = %d, want 0", n)
	}
	if got := p.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var called atomic.Bool
	sink := SnapshotSinkFunc(func(context.Context, []model.QuoteSnapshot) error {
		called.Store(true)
		return nil
	})

	cfg := Config{
		Interval:    50 * time.Millisecond,
		Concurrency: 2,
	}
	p := New(cfg, &mockSource{quotes: makeQuotes(1)}, sink, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !called.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !called.Load() {
		t.Error("sink was never called")
	}
}

func TestPoller_Concurrency(t *testing.T) {
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	sink := SnapshotSinkFunc(func(context.Context, []model.QuoteSnapshot) error {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		// Track max concurrent writes.
		for {
			old := maxInFlight.Load()
			if current <= old || maxInFlight.CompareAndSwap(old, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		return nil
	})

	cfg := Config{
		Interval:    time.Hour,
		Concurrency: 3,
		ChunkSize:   1,
	}
	p := New(cfg, &mockSource{quotes: makeQuotes(20)}, sink, nil)

	if n, err := p.Poll(context.Background()); err != nil || n != 20 {
		t.Fatalf("Poll() = %d, %v", n, err)
	}
	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("maxInFlight = %d, want <= 3", got)
	}
}

func TestChunks(t *testing.T) {
	snaps := make([]model.QuoteSnapshot, 7)

	tests := []struct {
		size int
		want []int
	}{
		{3, []int{3, 3, 1}},
		{7, []int{7}},
		{10, []int{7}},
		{1, []int{1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		got := chunks(snaps, tt.size)
		if len(got) != len(tt.want) {
			t.Errorf("chunks(7, %d) = %d chunks, want %d", tt.size, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if len(got[i]) != tt.want[i] {
				t.Errorf("chunks(7, %d)[%d] len = %d, want %d", tt.size, i, len(got[i]), tt.want[i])
			}
		}
	}

	if got := chunks(nil, 3); len(got) != 0 {
		t.Errorf("chunks(nil) = %d chunks, want 0", len(got))
	}
}
