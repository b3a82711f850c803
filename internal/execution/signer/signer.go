package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer authorizes transactions for one address on one chain.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
