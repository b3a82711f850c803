package execution

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// validateTx is the last check before signing: approvals must be bounded and
// name the router, swaps must target the router.
func validateTx(req TxRequest) error {
	if req.To == (common.Address{}) {
		return clierr.New(clierr.CodeInternal, "transaction has no target")
	}
	if req.Router == (common.Address{}) {
		return clierr.New(clierr.CodeInternal, "transaction has no router")
	}
	switch req.Kind {
	case TxApproval:
		return validateApproval(req)
	case TxSwap:
		if req.To != req.Router {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("swap target %s is not the router %s", req.To.Hex(), req.Router.Hex()))
		}
		if len(req.Data) < 4 {
			return clierr.New(clierr.CodeInternal, "swap calldata is empty")
		}
		return nil
	default:
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown transaction kind %q", req.Kind))
	}
}

func validateApproval(req TxRequest) error {
	if !isApproveCall(req.Data) {
		return clierr.New(clierr.CodeInternal, "approval must call ERC20 approve(spender,amount)")
	}
	if req.Value != nil && req.Value.Sign() != 0 {
		return clierr.New(clierr.CodeInternal, "approval must not carry value")
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(req.Data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeInternal, "approval calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender != req.Router {
		return clierr.New(clierr.CodeInternal, "approval spender is not the router")
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount == nil || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeInternal, "approval amount must be positive")
	}
	if req.MaxApproval == nil || amount.Cmp(req.MaxApproval) > 0 {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("approval amount %s exceeds swap input", amount))
	}
	return nil
}
