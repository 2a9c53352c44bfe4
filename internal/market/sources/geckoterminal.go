package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/ratelimit"
)

const geckoTerminalAPI = "https://api.geckoterminal.com"

var geckoNetworks = map[string]string{
	"base":     "base",
	"ethereum": "eth",
	"arbitrum": "arbitrum",
}

// GeckoTerminal reads token-level aggregates across all pools.
type GeckoTerminal struct {
	client  *http.Client
	baseURL string
	limiter *ratelimit.Limiter
}

// NewGeckoTerminal creates the adapter. The public API allows 30 calls/min.
func NewGeckoTerminal(baseURL string, rpm int) *GeckoTerminal {
	if baseURL == "" {
		baseURL = geckoTerminalAPI
	}
	return &GeckoTerminal{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: ratelimit.PerMinute(rpm, "geckoterminal"),
	}
}

func (g *GeckoTerminal) Name() string { return "geckoterminal" }

func (g *GeckoTerminal) Supports(t market.Token) bool {
	_, ok := geckoNetworks[strings.ToLower(t.Chain)]
	return ok && t.Address != ""
}

// Numeric attributes arrive as strings or null.
type geckoTokenResponse struct {
	Data struct {
		Attributes struct {
			PriceUSD          *string `json:"price_usd"`
			MarketCapUSD      *string `json:"market_cap_usd"`
			FDVUSD            *string `json:"fdv_usd"`
			TotalReserveInUSD *string `json:"total_reserve_in_usd"`
			VolumeUSD         struct {
				H24 *string `json:"h24"`
			} `json:"volume_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

func (g *GeckoTerminal) Fetch(ctx context.Context, t market.Token) (*market.Partial, error) {
	network, ok := geckoNetworks[strings.ToLower(t.Chain)]
	if !ok {
		return nil, market.ErrUnsupported
	}

	var resp geckoTokenResponse
	url := fmt.Sprintf("%s/api/v2/networks/%s/tokens/%s", g.baseURL, network, strings.ToLower(t.Address))
	if err := getJSON(ctx, g.client, g.limiter, g.Name(), url, &resp); err != nil {
		return nil, err
	}

	a := resp.Data.Attributes
	mcap := parseFloat(deref(a.MarketCapUSD))
	if mcap == 0 {
		mcap = parseFloat(deref(a.FDVUSD))
	}

	p := &market.Partial{Source: g.Name()}
	p.PriceUSD = parseFloat(deref(a.PriceUSD))
	p.MarketCapUSD = mcap
	p.Volume24hUSD = parseFloat(deref(a.VolumeUSD.H24))
	p.LiquidityUSD = parseFloat(deref(a.TotalReserveInUSD))
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
