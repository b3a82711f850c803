package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var (
	quoterV1ABI   = mustABI(registry.UniswapV3QuoterV1ABI)
	swapRouterABI = mustABI(registry.UniswapV3SwapRouterABI)
)

// uniswapV3Router is the older generation: flat-argument Quoter and a
// SwapRouter whose exactInputSingle carries the deadline.
type uniswapV3Router struct {
	caller ContractCaller
	quoter common.Address
	router common.Address
}

type routerExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	Deadline          *big.Int       `abi:"deadline"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

func (u *uniswapV3Router) Name() string           { return VenueUniswapV3Router }
func (u *uniswapV3Router) Router() common.Address { return u.router }

func (u *uniswapV3Router) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int, amountIn *big.Int) (TierQuote, error) {
	callData, err := quoterV1ABI.Pack("quoteExactInputSingle", tokenIn, tokenOut, big.NewInt(int64(fee)), amountIn, big.NewInt(0))
	if err != nil {
		return TierQuote{}, clierr.Wrap(clierr.CodeInternal, "pack quoter calldata", err)
	}
	out, err := u.caller.CallContract(ctx, ethereum.CallMsg{To: &u.quoter, Data: callData}, nil)
	if err != nil {
		return TierQuote{}, clierr.Wrap(clierr.CodeUnavailable, "quoter call failed", err)
	}
	decoded, err := quoterV1ABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return TierQuote{}, clierr.Wrap(clierr.CodeUnavailable, "decode quoter response", err)
	}
	amountOut, ok := firstBigInt(decoded)
	if !ok {
		return TierQuote{}, clierr.New(clierr.CodeUnavailable, "invalid quoter response")
	}
	return TierQuote{AmountOut: amountOut, GasEstimate: defaultSwapGas}, nil
}

func (u *uniswapV3Router) SwapCall(p SwapParams) ([]byte, error) {
	data, err := swapRouterABI.Pack("exactInputSingle", routerExactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(int64(p.Fee)),
		Recipient:         p.Recipient,
		Deadline:          p.Deadline,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMinimum,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}
	return data, nil
}
