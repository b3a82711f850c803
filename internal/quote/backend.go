package quote

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

const (
	VenueUniswapV3Router   = "uniswap-v3-router"
	VenueUniswapV3Router02 = "uniswap-v3-router02"

	// Used when the quoting contract does not report a gas estimate.
	defaultSwapGas uint64 = 150_000
)

// ContractCaller is the read-only slice of an RPC client the backends need.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TierQuote is the raw result of one quoting call on one fee tier.
type TierQuote struct {
	AmountOut   *big.Int
	GasEstimate uint64
}

type SwapParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              int
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Deadline         *big.Int
}

// Backend is one on-chain venue generation. Approval, slippage and deadline
// policy live with the caller; a backend only quotes and encodes.
type Backend interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee int, amountIn *big.Int) (TierQuote, error)
	Router() common.Address
	SwapCall(p SwapParams) ([]byte, error)
}

// NewBackend selects a venue by configuration name.
func NewBackend(venue string, chainID int64, caller ContractCaller) (Backend, error) {
	contracts, ok := registry.UniswapV3Contracts(chainID)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no venue contracts for chain %d", chainID))
	}
	switch strings.ToLower(strings.TrimSpace(venue)) {
	case VenueUniswapV3Router:
		return &uniswapV3Router{caller: caller, quoter: contracts.QuoterV1, router: contracts.SwapRouter}, nil
	case VenueUniswapV3Router02, "":
		return &uniswapV3Router02{caller: caller, quoter: contracts.QuoterV2, router: contracts.SwapRouter02}, nil
	default:
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown quote venue %q", venue))
	}
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func firstBigInt(values []interface{}) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	v, ok := values[0].(*big.Int)
	return v, ok && v != nil
}
