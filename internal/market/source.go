package market

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned by a source asked to price a token it cannot serve.
var ErrUnsupported = errors.New("token not supported by source")

// Source defines the interface that all market data adapters must implement.
// To add a new provider, create a struct that implements this interface and
// append it to the Collector's source list; list order is merge priority.
type Source interface {
	// Name returns a unique identifier for this source (e.g., "dexscreener").
	Name() string

	// Supports reports whether the source can price the token at all.
	Supports(t Token) bool

	// Fetch returns whatever subset of metrics the source knows for the token.
	// Zero fields mean "unknown".
	Fetch(ctx context.Context, t Token) (*Partial, error)
}

// Token identifies one fungible asset on one chain.
type Token struct {
	ID          int64     `json:"id"`
	AgentID     int64     `json:"agent_id"`
	Chain       string    `json:"chain"`
	Address     string    `json:"address"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	Decimals    uint8     `json:"decimals"`
	LaunchVenue string    `json:"launch_venue,omitempty"`
	IsPrimary   bool      `json:"is_primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns a chain-qualified, case-normalized address.
func (t Token) Key() string {
	return strings.ToLower(t.Chain) + ":" + strings.ToLower(t.Address)
}

// Metrics is one complete set of market figures for a token.
type Metrics struct {
	PriceUSD       float64 `json:"price_usd"`
	MarketCapUSD   float64 `json:"market_cap_usd"`
	Holders        int64   `json:"holders"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	PriceChange24h float64 `json:"price_change_24h"`
}

// Partial is the result of a single source; any field may be zero.
type Partial struct {
	Source string `json:"source"`
	Metrics
}

// Snapshot is one append-only, timestamped metrics record for a token.
type Snapshot struct {
	ID         int64     `json:"id"`
	TokenID    int64     `json:"token_id"`
	Metrics
	CapturedAt time.Time `json:"captured_at"`
}
