// Package poolprice derives token prices from concentrated-liquidity pool state.
//
// A pool reports its price as sqrtPriceX96 = sqrt(token1/token0) * 2^96 in raw
// (undecimalized) units. All intermediate math stays in math/big; conversion to
// float64 happens only when multiplying by a USD reference price.
package poolprice

import (
	"errors"
	"math"
	"math/big"
)

// ErrInvalidSqrtPrice is returned for nil, zero or negative sqrt prices.
var ErrInvalidSqrtPrice = errors.New("invalid sqrt price")

var twoPow192 = new(big.Int).Lsh(big.NewInt(1), 192)

// PriceFromSqrtX96 returns the price of one whole token0 expressed in whole
// token1 units.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, token0Decimals, token1Decimals uint8) (*big.Rat, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, ErrInvalidSqrtPrice
	}

	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	raw := new(big.Rat).SetFrac(sq, twoPow192)

	// raw is token1-wei per token0-wei. One whole token0 is 10^d0 wei and one
	// whole token1 is 10^d1 wei, so the whole-unit price is raw * 10^(d0-d1).
	switch {
	case token0Decimals > token1Decimals:
		adj := pow10(token0Decimals - token1Decimals)
		raw.Mul(raw, new(big.Rat).SetInt(adj))
	case token1Decimals > token0Decimals:
		adj := pow10(token1Decimals - token0Decimals)
		raw.Quo(raw, new(big.Rat).SetInt(adj))
	}
	return raw, nil
}

// TokenPriceInQuote returns the price of the token being priced, denominated
// in the pool's other (quote) asset. tokenIsToken0 tells which side of the
// pool the priced token sits on.
func TokenPriceInQuote(sqrtPriceX96 *big.Int, tokenIsToken0 bool, tokenDecimals, quoteDecimals uint8) (*big.Rat, error) {
	if tokenIsToken0 {
		return PriceFromSqrtX96(sqrtPriceX96, tokenDecimals, quoteDecimals)
	}
	p, err := PriceFromSqrtX96(sqrtPriceX96, quoteDecimals, tokenDecimals)
	if err != nil {
		return nil, err
	}
	if p.Sign() == 0 {
		return nil, ErrInvalidSqrtPrice
	}
	return p.Inv(p), nil
}

// USD converts a quote-denominated price to USD given the quote asset's USD
// price. Negative or non-finite results collapse to 0.
func USD(priceInQuote *big.Rat, quoteUSD float64) float64 {
	if priceInQuote == nil || quoteUSD <= 0 || math.IsNaN(quoteUSD) || math.IsInf(quoteUSD, 0) {
		return 0
	}
	f, _ := new(big.Float).SetPrec(256).SetRat(priceInQuote).Float64()
	v := f * quoteUSD
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// MarketCap returns priceUSD * totalSupply / 10^decimals.
func MarketCap(priceUSD float64, totalSupply *big.Int, decimals uint8) float64 {
	if priceUSD <= 0 || totalSupply == nil || totalSupply.Sign() <= 0 {
		return 0
	}
	supply := new(big.Rat).SetFrac(totalSupply, pow10(decimals))
	f, _ := new(big.Float).SetPrec(256).SetRat(supply).Float64()
	return f * priceUSD
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
