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
	quoterV2ABI     = mustABI(registry.UniswapV3QuoterV2ABI)
	swapRouter02ABI = mustABI(registry.UniswapV3SwapRouter02ABI)
)

// uniswapV3Router02 quotes through QuoterV2 and swaps through SwapRouter02,
// where the deadline is enforced by multicall.
type uniswapV3Router02 struct {
	caller ContractCaller
	quoter common.Address
	router common.Address
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

func (u *uniswapV3Router02) Name() string           { return VenueUniswapV3Router02 }
func (u *uniswapV3Router02) Router() common.Address { return u.router }

func (u *uniswapV3Router02) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int, amountIn *big.Int) (TierQuote, error) {
	callData, err := quoterV2ABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return TierQuote{}, clierr.Wrap(clierr.CodeInternal, "pack quoter calldata", err)
	}
	out, err := u.caller.CallContract(ctx, ethereum.CallMsg{To: &u.quoter, Data: callData}, nil)
	if err != nil {
		return TierQuote{}, clierr.Wrap(clierr.CodeUnavailable, "quoter call failed", err)
	}
	decoded, err := quoterV2ABI.Unpack("quoteExactInputSingle", out)
	if err != nil || len(decoded) < 4 {
		return TierQuote{}, clierr.Wrap(clierr.CodeUnavailable, "decode quoter response", err)
	}
	amountOut, ok := firstBigInt(decoded)
	if !ok {
		return TierQuote{}, clierr.New(clierr.CodeUnavailable, "invalid quoter response")
	}
	gas := defaultSwapGas
	if g, ok := decoded[3].(*big.Int); ok && g != nil && g.Sign() > 0 && g.IsUint64() {
		gas = g.Uint64()
	}
	return TierQuote{AmountOut: amountOut, GasEstimate: gas}, nil
}

func (u *uniswapV3Router02) SwapCall(p SwapParams) ([]byte, error) {
	inner, err := swapRouter02ABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(int64(p.Fee)),
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMinimum,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}
	data, err := swapRouter02ABI.Pack("multicall", p.Deadline, [][]byte{inner})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack multicall calldata", err)
	}
	return data, nil
}
