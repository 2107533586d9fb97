package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/dtc-feed/internal/feed"
	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/queue"
)

func TestParseInstruments(t *testing.T) {
	tests := []struct {
		in   string
		want []feed.Instrument
	}{
		{"", nil},
		{"CME:ESZ6", []feed.Instrument{{Symbol: "ESZ6", Exchange: "CME"}}},
		{" CME:ESZ6 , NQZ6 ,,", []feed.Instrument{{Symbol: "ESZ6", Exchange: "CME"}, {Symbol: "NQZ6"}}},
		{"CME:", nil},
	}

	for _, tt := range tests {
		got := parseInstruments(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseInstruments(%q) = %+v, want %+v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseInstruments(%q)[%d] = %+v, want %+v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestFormatQuote(t *testing.T) {
	q := model.Quote{Symbol: "ESZ6", Exchange: "CME", Kind: "bidask", Bid: 4500, Ask: 4500.25}

	if got, want := formatQuote(q, false), "[BIDASK] CME:ESZ6 last=0 bid=4500 ask=4500.25 spread=0.25 vol=0"; got != want {
		t.Errorf("formatQuote() = %q, want %q", got, want)
	}
	if got := formatQuote(q, true); !strings.Contains(got, `"symbol": "ESZ6"`) {
		t.Errorf("verbose formatQuote() = %q", got)
	}
}

func TestPrintQuotes(t *testing.T) {
	buf := queue.New[model.Quote](4, 0)
	buf.Push(model.Quote{Symbol: "ESZ6", Exchange: "CME", Kind: "trade", Last: 4500})
	buf.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	printQuotes(ctx, buf, &out, false)

	if !strings.HasPrefix(out.String(), "[TRADE] CME:ESZ6 last=4500") {
		t.Errorf("output = %q", out.String())
	}
}
