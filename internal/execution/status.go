package execution

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusReverted  = "reverted"
)

// TxStatus looks up a previously submitted hash once, without waiting.
func (e *Executor) TxStatus(ctx context.Context, txHash string) (model.TxStatus, error) {
	if !isTxHash(txHash) {
		return model.TxStatus{}, clierr.New(clierr.CodeUsage, "transaction hash must be 0x followed by 64 hex characters")
	}
	hash := common.HexToHash(txHash)
	out := model.TxStatus{TxHash: hash.Hex(), ExplorerURL: registry.ExplorerTxURL(e.ChainID(), hash.Hex())}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	receipt, err := e.client.TransactionReceipt(callCtx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			out.Status = TxStatusPending
			return out, nil
		}
		return model.TxStatus{}, clierr.Wrap(clierr.CodeUnavailable, "read transaction receipt", err)
	}
	out.Status = TxStatusConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = TxStatusReverted
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	out.GasUsed = receipt.GasUsed
	return out, nil
}

func isTxHash(v string) bool {
	if len(v) != 66 || v[:2] != "0x" {
		return false
	}
	for _, c := range v[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
