package quote

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/defi-agent/internal/registry"
)

// RatioSource prices one unit of from in units of to for fallback estimates.
type RatioSource interface {
	Ratio(ctx context.Context, from, to registry.Token) (*big.Rat, bool)
}

// StaticRatios is a hand-maintained table keyed by canonical routing symbols.
// Values are decimal strings so the table never passes through float64.
type StaticRatios map[string]map[string]string

func (s StaticRatios) Ratio(_ context.Context, from, to registry.Token) (*big.Rat, bool) {
	row, ok := s[from.Canonical]
	if !ok {
		return nil, false
	}
	raw, ok := row[to.Canonical]
	if !ok {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(raw)
	if !ok || r.Sign() <= 0 {
		return nil, false
	}
	return r, true
}

// DefaultStaticRatios is the Polygon deployment's fallback table. It drifts
// from real markets; prefer chaining LiveRatios in front of it.
func DefaultStaticRatios() StaticRatios {
	stable := func(self string) map[string]string {
		row := map[string]string{
			"WPOL": "2.5",
			"WETH": "0.00038",
			"WBTC": "0.0000163",
			"LINK": "0.075",
		}
		for _, s := range []string{"USDC", "USDT", "DAI"} {
			if s != self {
				row[s] = "1"
			}
		}
		return row
	}
	return StaticRatios{
		"WPOL": {"USDC": "0.4", "USDT": "0.4", "DAI": "0.4", "WETH": "0.00015", "WBTC": "0.0000065", "LINK": "0.03"},
		"USDC": stable("USDC"),
		"USDT": stable("USDT"),
		"DAI":  stable("DAI"),
		"WETH": {"USDC": "2600", "USDT": "2600", "DAI": "2600", "WPOL": "6500", "WBTC": "0.042", "LINK": "195"},
		"WBTC": {"USDC": "61500", "USDT": "61500", "DAI": "61500", "WPOL": "153750", "WETH": "23.8", "LINK": "4615"},
		"LINK": {"USDC": "13.33", "USDT": "13.33", "DAI": "13.33", "WPOL": "33.33", "WETH": "0.0051", "WBTC": "0.000217"},
	}
}

// PriceFeed is satisfied by pricefeed.Client.
type PriceFeed interface {
	USDPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// LiveRatios derives a pair ratio from two USD spot prices.
type LiveRatios struct {
	Feed PriceFeed
}

func (l LiveRatios) Ratio(ctx context.Context, from, to registry.Token) (*big.Rat, bool) {
	if l.Feed == nil || from.PriceID == "" || to.PriceID == "" {
		return nil, false
	}
	prices, err := l.Feed.USDPrices(ctx, []string{from.PriceID, to.PriceID})
	if err != nil {
		return nil, false
	}
	pFrom, pTo := prices[from.PriceID], prices[to.PriceID]
	if pFrom <= 0 || pTo <= 0 {
		return nil, false
	}
	num := new(big.Rat).SetFloat64(pFrom)
	den := new(big.Rat).SetFloat64(pTo)
	if num == nil || den == nil {
		return nil, false
	}
	return num.Quo(num, den), true
}

// ChainedRatios asks each source in order and returns the first hit.
type ChainedRatios []RatioSource

func (c ChainedRatios) Ratio(ctx context.Context, from, to registry.Token) (*big.Rat, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if r, ok := src.Ratio(ctx, from, to); ok {
			return r, true
		}
	}
	return nil, false
}

// estimateOut scales amountIn (base units of from) by ratio into base units of
// to, truncating toward zero.
func estimateOut(amountIn *big.Int, ratio *big.Rat, fromDecimals, toDecimals int) *big.Int {
	v := new(big.Rat).SetInt(amountIn)
	v.Mul(v, ratio)
	shift := toDecimals - fromDecimals
	if shift > 0 {
		v.Mul(v, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil)))
	} else if shift < 0 {
		v.Quo(v, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil)))
	}
	return new(big.Int).Quo(v.Num(), v.Denom())
}
