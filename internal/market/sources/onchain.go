package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/market/poolprice"
	"github.com/web3-frozen/agent-signal/internal/metrics"
)

// quoteUSD is the pseudo-asset for pools quoted directly in a USD stablecoin.
const quoteUSD = "USD"

const poolABIJSON = `[
{"inputs":[],"name":"slot0","outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ErrNoPool is returned for tokens without a registered pool.
var ErrNoPool = fmt.Errorf("no registered pool: %w", market.ErrUnsupported)

// ContractCaller is the subset of ethclient.Client the adapter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolConfig registers the concentrated-liquidity pool used to price a token.
type PoolConfig struct {
	Chain         string `json:"chain"`
	Token         string `json:"token"`
	Pool          string `json:"pool"`
	TokenIsToken0 bool   `json:"token_is_token0"`
	QuoteAsset    string `json:"quote_asset"` // reference asset key, or "USD"
	QuoteDecimals uint8  `json:"quote_decimals"`
}

// ReferencePool prices a quote asset (e.g. WETH) against a USD stablecoin.
type ReferencePool struct {
	Chain          string `json:"chain"`
	Asset          string `json:"asset"`
	Pool           string `json:"pool"`
	AssetIsToken0  bool   `json:"asset_is_token0"`
	AssetDecimals  uint8  `json:"asset_decimals"`
	StableDecimals uint8  `json:"stable_decimals"`
}

// ParsePoolRegistry decodes a JSON array of PoolConfig. Empty input yields nil.
func ParsePoolRegistry(raw string) ([]PoolConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var pools []PoolConfig
	if err := json.Unmarshal([]byte(raw), &pools); err != nil {
		return nil, fmt.Errorf("parse pool registry: %w", err)
	}
	return pools, nil
}

// ParseReferencePools decodes a JSON array of ReferencePool.
func ParseReferencePools(raw string) ([]ReferencePool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var refs []ReferencePool
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("parse reference pools: %w", err)
	}
	return refs, nil
}

// OnChain prices tokens straight from their pool's slot0 and the token's
// totalSupply. Only tokens listed in the pool registry are supported.
type OnChain struct {
	callers  map[string]ContractCaller
	pools    map[string]PoolConfig
	refs     map[string]ReferencePool
	refCache *expirable.LRU[string, float64]
	contract abi.ABI
	logger   *slog.Logger
}

// NewOnChain builds the adapter. callers is keyed by chain name.
func NewOnChain(callers map[string]ContractCaller, pools []PoolConfig, refs []ReferencePool, refTTL time.Duration, logger *slog.Logger) (*OnChain, error) {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	if refTTL <= 0 {
		refTTL = 5 * time.Minute
	}

	o := &OnChain{
		callers:  make(map[string]ContractCaller, len(callers)),
		pools:    make(map[string]PoolConfig, len(pools)),
		refs:     make(map[string]ReferencePool, len(refs)),
		refCache: expirable.NewLRU[string, float64](64, nil, refTTL),
		contract: parsed,
		logger:   logger,
	}
	for chain, c := range callers {
		o.callers[strings.ToLower(chain)] = c
	}
	for _, p := range pools {
		key := market.Token{Chain: p.Chain, Address: p.Token}.Key()
		o.pools[key] = p
	}
	for _, r := range refs {
		o.refs[refKey(r.Chain, r.Asset)] = r
	}
	return o, nil
}

func (o *OnChain) Name() string { return "onchain" }

func (o *OnChain) Supports(t market.Token) bool {
	if _, ok := o.pools[t.Key()]; !ok {
		return false
	}
	_, ok := o.callers[strings.ToLower(t.Chain)]
	return ok
}

func (o *OnChain) Fetch(ctx context.Context, t market.Token) (*market.Partial, error) {
	pool, ok := o.pools[t.Key()]
	if !ok {
		return nil, ErrNoPool
	}
	caller, ok := o.callers[strings.ToLower(t.Chain)]
	if !ok {
		return nil, fmt.Errorf("no rpc client for chain %s: %w", t.Chain, market.ErrUnsupported)
	}

	sqrt, err := o.sqrtPrice(ctx, caller, pool.Pool)
	if err != nil {
		return nil, fmt.Errorf("read pool %s: %w", pool.Pool, err)
	}
	inQuote, err := poolprice.TokenPriceInQuote(sqrt, pool.TokenIsToken0, t.Decimals, pool.QuoteDecimals)
	if err != nil {
		return nil, fmt.Errorf("derive price: %w", err)
	}
	ref, err := o.ReferencePrice(ctx, t.Chain, pool.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("reference price %s: %w", pool.QuoteAsset, err)
	}

	p := &market.Partial{Source: o.Name()}
	p.PriceUSD = poolprice.USD(inQuote, ref)

	// A failed supply read still leaves a useful price.
	supply, err := o.totalSupply(ctx, caller, t.Address)
	if err != nil {
		o.logger.Warn("totalSupply read failed", "token", t.Key(), "error", err)
	} else {
		p.MarketCapUSD = poolprice.MarketCap(p.PriceUSD, supply, t.Decimals)
	}
	return p, nil
}

// ReferencePrice returns the USD price of a quote asset, deriving it from
// the asset's reference pool at most once per cache TTL.
func (o *OnChain) ReferencePrice(ctx context.Context, chain, asset string) (float64, error) {
	if strings.EqualFold(asset, quoteUSD) || asset == "" {
		return 1, nil
	}
	key := refKey(chain, asset)
	if v, ok := o.refCache.Get(key); ok {
		return v, nil
	}

	ref, ok := o.refs[key]
	if !ok {
		return 0, fmt.Errorf("no reference pool for %s", key)
	}
	caller, ok := o.callers[strings.ToLower(chain)]
	if !ok {
		return 0, fmt.Errorf("no rpc client for chain %s", chain)
	}

	sqrt, err := o.sqrtPrice(ctx, caller, ref.Pool)
	if err != nil {
		return 0, err
	}
	inStable, err := poolprice.TokenPriceInQuote(sqrt, ref.AssetIsToken0, ref.AssetDecimals, ref.StableDecimals)
	if err != nil {
		return 0, err
	}
	v := poolprice.USD(inStable, 1)
	if v <= 0 {
		return 0, errors.New("reference price is zero")
	}

	o.refCache.Add(key, v)
	metrics.ReferencePriceUSD.WithLabelValues(strings.ToLower(chain), strings.ToUpper(asset)).Set(v)
	return v, nil
}

func (o *OnChain) sqrtPrice(ctx context.Context, caller ContractCaller, pool string) (*big.Int, error) {
	out, err := o.call(ctx, caller, pool, "slot0")
	if err != nil {
		return nil, err
	}
	sqrt, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected slot0 type %T", out[0])
	}
	return sqrt, nil
}

func (o *OnChain) totalSupply(ctx context.Context, caller ContractCaller, token string) (*big.Int, error) {
	out, err := o.call(ctx, caller, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalSupply type %T", out[0])
	}
	return supply, nil
}

func (o *OnChain) call(ctx context.Context, caller ContractCaller, address, method string) ([]interface{}, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	data, err := o.contract.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	to := common.HexToAddress(address)
	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	if len(result) == 0 {
		return nil, errors.New("empty result (execution reverted or not a contract)")
	}

	out, err := o.contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("failed to unpack %s: no outputs", method)
	}
	return out, nil
}

func refKey(chain, asset string) string {
	return strings.ToLower(chain) + ":" + strings.ToUpper(asset)
}
