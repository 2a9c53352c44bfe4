package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/web3-frozen/agent-signal/internal/market"
)

func TestGeckoTerminalFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"id":"base_0xabc","type":"token","attributes":{
			"price_usd":"2.01","market_cap_usd":null,"fdv_usd":"2010000.5",
			"total_reserve_in_usd":"48000.25","volume_usd":{"h24":"9500"}}}}`))
	}))
	defer srv.Close()

	g := NewGeckoTerminal(srv.URL, 0)
	p, err := g.Fetch(context.Background(), market.Token{Chain: "ethereum", Address: "0xABC"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotPath != "/api/v2/networks/eth/tokens/0xabc" {
		t.Errorf("path = %q", gotPath)
	}
	if p.PriceUSD != 2.01 {
		t.Errorf("PriceUSD = %v", p.PriceUSD)
	}
	if p.MarketCapUSD != 2010000.5 {
		t.Errorf("MarketCapUSD = %v, want FDV fallback", p.MarketCapUSD)
	}
	if p.LiquidityUSD != 48000.25 || p.Volume24hUSD != 9500 {
		t.Errorf("liquidity/volume = %v/%v", p.LiquidityUSD, p.Volume24hUSD)
	}
}

func TestGeckoTerminalMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>cloudflare</html>`))
	}))
	defer srv.Close()

	g := NewGeckoTerminal(srv.URL, 0)
	if _, err := g.Fetch(context.Background(), market.Token{Chain: "base", Address: "0xabc"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestGeckoTerminalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGeckoTerminal(srv.URL, 0)
	if _, err := g.Fetch(context.Background(), market.Token{Chain: "base", Address: "0xabc"}); err == nil {
		t.Error("expected status error")
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"null", 0},
		{" 12.5 ", 12.5},
		{"-4", 0},
		{"abc", 0},
		{"1e3", 1000},
	}
	for _, tt := range tests {
		if got := parseFloat(tt.in); got != tt.want {
			t.Errorf("parseFloat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
