package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type fakeFeed struct {
	prices map[string]float64
	err    error
}

func (f fakeFeed) USDPrices(context.Context, []string) (map[string]float64, error) {
	return f.prices, f.err
}

func TestLiveRatiosDividesUSDPrices(t *testing.T) {
	tokens := polygonTokens(t)
	weth, _ := tokens.Resolve("WETH")
	usdc, _ := tokens.Resolve("USDC")

	live := LiveRatios{Feed: fakeFeed{prices: map[string]float64{"weth": 3000, "usd-coin": 1}}}
	r, ok := live.Ratio(context.Background(), weth, usdc)
	if !ok || r.Cmp(big.NewRat(3000, 1)) != 0 {
		t.Fatalf("unexpected live ratio %v ok=%v", r, ok)
	}
}

func TestChainedRatiosFallsThroughFeedFailure(t *testing.T) {
	tokens := polygonTokens(t)
	weth, _ := tokens.Resolve("WETH")
	usdc, _ := tokens.Resolve("USDC")

	chain := ChainedRatios{LiveRatios{Feed: fakeFeed{err: errors.New("rate limited")}}, DefaultStaticRatios()}
	r, ok := chain.Ratio(context.Background(), weth, usdc)
	if !ok || r.Cmp(big.NewRat(2600, 1)) != 0 {
		t.Fatalf("expected static ratio after feed failure, got %v ok=%v", r, ok)
	}
}

func TestEstimateOutScalesDecimalsAndTruncates(t *testing.T) {
	ratio, _ := new(big.Rat).SetString("0.00038")
	// 1 USDC (6 decimals) -> WETH (18 decimals)
	got := estimateOut(big.NewInt(1_000_000), ratio, 6, 18)
	if got.String() != "380000000000000" {
		t.Fatalf("unexpected scaled output %s", got)
	}
	third := big.NewRat(1, 3)
	// 10 base units of an 18-decimal token into a 6-decimal token truncates to zero
	if estimateOut(big.NewInt(10), third, 18, 6).Sign() != 0 {
		t.Fatal("expected truncation to zero")
	}
}
