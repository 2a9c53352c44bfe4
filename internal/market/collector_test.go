package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type stubSource struct {
	name     string
	chains   map[string]bool
	partial  Metrics
	err      error
	panicMsg string
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Supports(t Token) bool {
	if s.chains == nil {
		return true
	}
	return s.chains[t.Chain]
}

func (s *stubSource) Fetch(ctx context.Context, _ Token) (*Partial, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Partial{Metrics: s.partial}, nil
}

type stubHistory struct {
	holders int64
	err     error
}

func (h stubHistory) LastPositiveHolders(context.Context, int64) (int64, error) {
	return h.holders, h.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var tkn = Token{ID: 7, Chain: "base", Address: "0xabc", Decimals: 18}

func TestCollectMergesInPriorityOrder(t *testing.T) {
	onchain := &stubSource{name: "onchain", partial: Metrics{PriceUSD: 2, MarketCapUSD: 2_000_000}}
	agg := &stubSource{name: "aggregator", partial: Metrics{PriceUSD: 2.05, Holders: 500, LiquidityUSD: 50_000, Volume24hUSD: 10_000}}

	c := NewCollector(nil, testLogger(), time.Second, onchain, agg)
	got, report := c.Collect(context.Background(), tkn)

	want := Metrics{PriceUSD: 2, MarketCapUSD: 2_000_000, Holders: 500, LiquidityUSD: 50_000, Volume24hUSD: 10_000}
	if got != want {
		t.Errorf("Collect = %+v, want %+v", got, want)
	}
	if len(report.Succeeded) != 2 || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.Origins["price_usd"] != "onchain" || report.Origins["holders"] != "aggregator" {
		t.Errorf("origins = %v", report.Origins)
	}
}

func TestCollectFailingSourceIsSkipped(t *testing.T) {
	broken := &stubSource{name: "broken", err: errors.New("connection refused")}
	ok := &stubSource{name: "ok", partial: Metrics{PriceUSD: 3}}

	c := NewCollector(nil, testLogger(), time.Second, broken, ok)
	got, report := c.Collect(context.Background(), tkn)

	if got.PriceUSD != 3 {
		t.Errorf("PriceUSD = %v, want 3", got.PriceUSD)
	}
	if _, failed := report.Failed["broken"]; !failed {
		t.Errorf("expected broken in Failed, got %+v", report.Failed)
	}
}

func TestCollectRecoversPanics(t *testing.T) {
	bad := &stubSource{name: "bad", panicMsg: "nil map"}
	ok := &stubSource{name: "ok", partial: Metrics{Holders: 10}}

	c := NewCollector(nil, testLogger(), time.Second, bad, ok)
	got, report := c.Collect(context.Background(), tkn)
	if got.Holders != 10 {
		t.Errorf("Holders = %d, want 10", got.Holders)
	}
	if _, failed := report.Failed["bad"]; !failed {
		t.Error("panicking source not reported as failed")
	}
}

func TestCollectTimeout(t *testing.T) {
	slow := &stubSource{name: "slow", delay: time.Second, partial: Metrics{PriceUSD: 1}}
	c := NewCollector(nil, testLogger(), 20*time.Millisecond, slow)

	start := time.Now()
	got, report := c.Collect(context.Background(), tkn)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Collect did not honor per-source timeout")
	}
	if got.PriceUSD != 0 || report.Failed["slow"] == "" {
		t.Errorf("got %+v, report %+v", got, report)
	}
}

func TestCollectSkipsUnsupported(t *testing.T) {
	eth := &stubSource{name: "eth-only", chains: map[string]bool{"ethereum": true}, partial: Metrics{PriceUSD: 5}}
	c := NewCollector(nil, testLogger(), time.Second, eth)

	got, report := c.Collect(context.Background(), tkn)
	if eth.calls.Load() != 0 {
		t.Error("unsupported source was called")
	}
	if got != (Metrics{}) || len(report.Succeeded) != 0 || len(report.Failed) != 0 {
		t.Errorf("got %+v, report %+v", got, report)
	}
}

func TestCollectCarriesHoldersForward(t *testing.T) {
	src := &stubSource{name: "dex", partial: Metrics{PriceUSD: 1}}

	tests := []struct {
		name        string
		history     HolderHistory
		wantHolders int64
		wantCarried bool
	}{
		{"previous positive count", stubHistory{holders: 480}, 480, true},
		{"no history", stubHistory{}, 0, false},
		{"lookup error", stubHistory{err: errors.New("db down")}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(tt.history, testLogger(), time.Second, src)
			got, report := c.Collect(context.Background(), tkn)
			if got.Holders != tt.wantHolders || report.CarriedHolders != tt.wantCarried {
				t.Errorf("holders = %d carried = %v, want %d %v", got.Holders, report.CarriedHolders, tt.wantHolders, tt.wantCarried)
			}
		})
	}
}

func TestCollectFreshHoldersNotOverridden(t *testing.T) {
	src := &stubSource{name: "explorer", partial: Metrics{Holders: 12}}
	c := NewCollector(stubHistory{holders: 999}, testLogger(), time.Second, src)

	got, report := c.Collect(context.Background(), tkn)
	if got.Holders != 12 || report.CarriedHolders {
		t.Errorf("holders = %d carried = %v", got.Holders, report.CarriedHolders)
	}
}

func TestCollectBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	broken := &stubSource{name: "flaky", err: errors.New("502")}
	c := NewCollector(nil, testLogger(), time.Second, broken)

	for i := 0; i < 8; i++ {
		c.Collect(context.Background(), tkn)
	}
	if got := broken.calls.Load(); got != 5 {
		t.Errorf("Fetch calls = %d, want 5 before breaker opens", got)
	}
}

func TestSourceNames(t *testing.T) {
	c := NewCollector(nil, testLogger(), 0,
		&stubSource{name: "a"}, &stubSource{name: "b"})
	c.Register(&stubSource{name: "c"})

	names := c.SourceNames()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("SourceNames = %v", names)
	}
}
