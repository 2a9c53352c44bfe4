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

const dexscreenerAPI = "https://api.dexscreener.com"

// dexscreenerChains maps internal chain names to DexScreener chain ids.
var dexscreenerChains = map[string]string{
	"base":     "base",
	"ethereum": "ethereum",
	"arbitrum": "arbitrum",
}

// DexScreener reads price, market cap, volume, liquidity and 24h change from
// the deepest pair DexScreener knows for a token.
type DexScreener struct {
	client  *http.Client
	baseURL string
	limiter *ratelimit.Limiter
}

// NewDexScreener creates the adapter. DexScreener documents 300 requests/min
// for the tokens endpoint.
func NewDexScreener(baseURL string, rpm int) *DexScreener {
	if baseURL == "" {
		baseURL = dexscreenerAPI
	}
	return &DexScreener{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: ratelimit.PerMinute(rpm, "dexscreener"),
	}
}

func (d *DexScreener) Name() string { return "dexscreener" }

func (d *DexScreener) Supports(t market.Token) bool {
	_, ok := dexscreenerChains[strings.ToLower(t.Chain)]
	return ok && t.Address != ""
}

type dexscreenerPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD string `json:"priceUsd"`
	Volume   struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       float64 `json:"fdv"`
	MarketCap float64 `json:"marketCap"`
}

type dexscreenerResponse struct {
	Pairs []dexscreenerPair `json:"pairs"`
}

func (d *DexScreener) Fetch(ctx context.Context, t market.Token) (*market.Partial, error) {
	chainID, ok := dexscreenerChains[strings.ToLower(t.Chain)]
	if !ok {
		return nil, market.ErrUnsupported
	}

	var resp dexscreenerResponse
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, t.Address)
	if err := getJSON(ctx, d.client, d.limiter, d.Name(), url, &resp); err != nil {
		return nil, err
	}

	pair := bestPair(resp.Pairs, chainID, t.Address)
	if pair == nil {
		return nil, fmt.Errorf("dexscreener: no %s pair for %s", chainID, t.Address)
	}

	mcap := pair.MarketCap
	if mcap <= 0 {
		mcap = pair.FDV
	}
	p := &market.Partial{Source: d.Name()}
	p.PriceUSD = parseFloat(pair.PriceUSD)
	p.MarketCapUSD = nonNegative(mcap)
	p.Volume24hUSD = nonNegative(pair.Volume.H24)
	p.LiquidityUSD = nonNegative(pairLiquidity(pair))
	p.PriceChange24h = pair.PriceChange.H24
	return p, nil
}

// bestPair returns the pair with the most USD liquidity where the token is
// the base asset on the requested chain.
func bestPair(pairs []dexscreenerPair, chainID, address string) *dexscreenerPair {
	var best *dexscreenerPair
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != chainID || !strings.EqualFold(p.BaseToken.Address, address) {
			continue
		}
		if best == nil || pairLiquidity(p) > pairLiquidity(best) {
			best = p
		}
	}
	return best
}

func pairLiquidity(p *dexscreenerPair) float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
