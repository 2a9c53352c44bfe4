package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/web3-frozen/agent-signal/internal/config"
	"github.com/web3-frozen/agent-signal/internal/market"
)

// Options configures the default adapter set.
type Options struct {
	RPCURLs map[string]string // chain -> JSON-RPC endpoint

	PoolRegistry      string
	ReferencePools    string
	ReferencePriceTTL time.Duration

	DexScreenerURL   string
	GeckoTerminalURL string
	BlockscoutURL    string
	DexScreenerRPM   int
	GeckoTerminalRPM int
	BlockscoutRPM    int
}

// OptionsFrom maps the service configuration onto adapter options.
func OptionsFrom(c config.Config) Options {
	return Options{
		RPCURLs: map[string]string{
			"base":     c.BaseRPCURL,
			"ethereum": c.EthereumRPCURL,
		},
		PoolRegistry:      c.PoolRegistry,
		ReferencePools:    c.ReferencePools,
		ReferencePriceTTL: c.ReferencePriceTTL,
		DexScreenerURL:    c.DexScreenerURL,
		GeckoTerminalURL:  c.GeckoTerminalURL,
		BlockscoutURL:     c.BlockscoutURL,
		DexScreenerRPM:    c.DexScreenerRPM,
		GeckoTerminalRPM:  c.GeckoTerminalRPM,
		BlockscoutRPM:     c.BlockscoutRPM,
	}
}

// Default returns the adapters in priority order: onchain, dexscreener,
// geckoterminal, blockscout. The on-chain adapter is left out when no chain
// has an RPC endpoint or no pool is registered. The returned func closes the
// RPC clients.
func Default(ctx context.Context, opts Options, logger *slog.Logger) ([]market.Source, func(), error) {
	var out []market.Source
	var clients []*ethclient.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	pools, err := ParsePoolRegistry(opts.PoolRegistry)
	if err != nil {
		return nil, nil, err
	}
	refs, err := ParseReferencePools(opts.ReferencePools)
	if err != nil {
		return nil, nil, err
	}

	callers := make(map[string]ContractCaller)
	for chain, url := range opts.RPCURLs {
		if url == "" {
			continue
		}
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		clients = append(clients, c)
		callers[chain] = c
	}

	if len(callers) > 0 && len(pools) > 0 {
		oc, err := NewOnChain(callers, pools, refs, opts.ReferencePriceTTL, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		out = append(out, oc)
	} else {
		logger.Info("on-chain adapter disabled", "rpc_chains", len(callers), "pools", len(pools))
	}

	out = append(out,
		NewDexScreener(opts.DexScreenerURL, opts.DexScreenerRPM),
		NewGeckoTerminal(opts.GeckoTerminalURL, opts.GeckoTerminalRPM),
		NewBlockscout(opts.BlockscoutURL, opts.BlockscoutRPM),
	)
	return out, closeAll, nil
}
