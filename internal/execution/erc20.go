package execution

import (
	"bytes"
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var (
	erc20ABI        = mustABI(registry.ERC20MinimalABI)
	transferTopic   = erc20ABI.Events["Transfer"].ID
	approveSelector = erc20ABI.Methods["approve"].ID
)

// Balance returns owner's holdings of token; the native asset is read from
// the account balance.
func (e *Executor) Balance(ctx context.Context, token registry.Token, owner common.Address) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if token.Native {
		bal, err := e.client.BalanceAt(callCtx, owner, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return bal, nil
	}
	return e.callUint(callCtx, token.Address, "balanceOf", owner)
}

func (e *Executor) Allowance(ctx context.Context, token registry.Token, owner, spender common.Address) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.callUint(callCtx, token.Address, "allowance", owner, spender)
}

// EnsureAllowance approves exactly amount for spender when the current
// allowance is short, and waits for the approval to land. It returns the
// approval hash, or "" when none was needed. Every failure is ApprovalFailed.
func (e *Executor) EnsureAllowance(ctx context.Context, s signer.Signer, token registry.Token, spender common.Address, amount *big.Int) (string, error) {
	if token.Native {
		return "", nil
	}
	current, err := e.Allowance(ctx, token, s.Address(), spender)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeApprovalFailed, "read allowance", err)
	}
	if current.Cmp(amount) >= 0 {
		return "", nil
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	hash, err := e.Submit(ctx, s, TxRequest{
		Kind:        TxApproval,
		To:          token.Address,
		Data:        data,
		Router:      spender,
		MaxApproval: amount,
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeApprovalFailed, "submit approval", err)
	}
	receipt, err := e.WaitReceipt(ctx, hash)
	if err != nil {
		return hash.Hex(), clierr.Wrap(clierr.CodeApprovalFailed, "approval not confirmed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash.Hex(), clierr.New(clierr.CodeApprovalFailed, "approval reverted on-chain")
	}
	return hash.Hex(), nil
}

func (e *Executor) callUint(ctx context.Context, target common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, method+" call failed", err)
	}
	decoded, err := erc20ABI.Unpack(method, out)
	if err != nil || len(decoded) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+method+" response", err)
	}
	v, ok := decoded[0].(*big.Int)
	if !ok || v == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid "+method+" response")
	}
	return v, nil
}

// TransferredTo sums Transfer events of token credited to recipient in receipt.
func TransferredTo(receipt *types.Receipt, token, recipient common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	total := new(big.Int)
	found := false
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
		found = true
	}
	return total, found
}

func isApproveCall(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], approveSelector)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
