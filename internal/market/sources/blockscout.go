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

// blockscoutHosts are the public explorer instances per chain.
var blockscoutHosts = map[string]string{
	"base":     "https://base.blockscout.com",
	"ethereum": "https://eth.blockscout.com",
}

// Blockscout supplies holder counts, which DEX aggregators do not expose.
// Its indexer lags on fresh tokens and then reports zero holders; the
// collector's carry-forward covers that.
type Blockscout struct {
	client  *http.Client
	hosts   map[string]string
	limiter *ratelimit.Limiter
}

// NewBlockscout creates the adapter. A non-empty baseURL overrides the host
// for every chain (used for self-hosted explorers and tests).
func NewBlockscout(baseURL string, rpm int) *Blockscout {
	hosts := make(map[string]string, len(blockscoutHosts))
	for chain, host := range blockscoutHosts {
		if baseURL != "" {
			host = baseURL
		}
		hosts[chain] = strings.TrimRight(host, "/")
	}
	return &Blockscout{
		client:  &http.Client{Timeout: 15 * time.Second},
		hosts:   hosts,
		limiter: ratelimit.PerMinute(rpm, "blockscout"),
	}
}

func (b *Blockscout) Name() string { return "blockscout" }

func (b *Blockscout) Supports(t market.Token) bool {
	_, ok := b.hosts[strings.ToLower(t.Chain)]
	return ok && t.Address != ""
}

type blockscoutToken struct {
	HoldersCount         string  `json:"holders_count"`
	Holders              string  `json:"holders"`
	ExchangeRate         *string `json:"exchange_rate"`
	CirculatingMarketCap *string `json:"circulating_market_cap"`
	Volume24h            *string `json:"volume_24h"`
}

func (b *Blockscout) Fetch(ctx context.Context, t market.Token) (*market.Partial, error) {
	host, ok := b.hosts[strings.ToLower(t.Chain)]
	if !ok {
		return nil, market.ErrUnsupported
	}

	var resp blockscoutToken
	url := fmt.Sprintf("%s/api/v2/tokens/%s", host, t.Address)
	if err := getJSON(ctx, b.client, b.limiter, b.Name(), url, &resp); err != nil {
		return nil, err
	}

	holders := parseInt(resp.HoldersCount)
	if holders == 0 {
		holders = parseInt(resp.Holders) // older instances
	}

	p := &market.Partial{Source: b.Name()}
	p.Holders = holders
	p.PriceUSD = parseFloat(deref(resp.ExchangeRate))
	p.MarketCapUSD = parseFloat(deref(resp.CirculatingMarketCap))
	p.Volume24hUSD = parseFloat(deref(resp.Volume24h))
	return p, nil
}
