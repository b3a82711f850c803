package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// LocalSigner holds an in-memory key. It is only ever built from a key that
// custody has just decrypted and is never serialized.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

func NewLocalSigner(pk *ecdsa.PrivateKey, chainID int64) (*LocalSigner, error) {
	if pk == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing private key")
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, clierr.New(clierr.CodeSigner, "invalid ECDSA public key")
	}
	return &LocalSigner{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(*pub),
		chainID:    big.NewInt(chainID),
	}, nil
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	if chainID == nil {
		chainID = s.chainID
	}
	if chainID.Cmp(s.chainID) != 0 {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("signer bound to chain %s, asked to sign for %s", s.chainID, chainID))
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

// ParseHexKey decodes a 0x-optional hex private key into raw bytes.
func ParseHexKey(raw string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, clierr.New(clierr.CodeInvalidKeyMaterial, "empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidKeyMaterial, "parse private key", err)
	}
	return crypto.FromECDSA(pk), nil
}
