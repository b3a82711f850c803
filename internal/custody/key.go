package custody

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
)

// KeyState is either LockedKey or *UnlockedKey. Only the unlocked variant
// carries key material, and it never leaves this package.
type KeyState interface {
	keyState()
}

// LockedKey marks a wallet that exists but has not been unlocked.
type LockedKey struct{}

func (LockedKey) keyState() {}

type UnlockedKey struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (*UnlockedKey) keyState() {}

func newUnlockedKey(raw []byte) (*UnlockedKey, error) {
	pk, err := toECDSA(raw)
	if err != nil {
		return nil, err
	}
	return &UnlockedKey{key: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (k *UnlockedKey) Address() common.Address {
	return k.address
}

// wipe drops the scalar. The big.Int words are cleared in place first.
func (k *UnlockedKey) wipe() {
	if k == nil || k.key == nil {
		return
	}
	if k.key.D != nil {
		k.key.D.SetInt64(0)
	}
	k.key = nil
}

// CreateSigner binds an unlocked key to chainID. It returns false for a locked
// (or wiped) key.
func CreateSigner(state KeyState, chainID int64) (signer.Signer, bool) {
	unlocked, ok := state.(*UnlockedKey)
	if !ok || unlocked == nil || unlocked.key == nil {
		return nil, false
	}
	s, err := signer.NewLocalSigner(unlocked.key, chainID)
	if err != nil {
		return nil, false
	}
	return s, true
}
