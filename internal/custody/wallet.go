package custody

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

type State string

const (
	StateAbsent   State = "absent"
	StateUnlocked State = "unlocked"
	StateLocked   State = "locked"
	StateDeleted  State = "deleted"
)

// Wallet is the custody state machine for one account:
// absent -> unlocked (created) -> locked <-> unlocked -> deleted.
// Deleted is terminal until an explicit Create or Import.
type Wallet struct {
	mu      sync.Mutex
	account string
	store   RecordStore
	params  Params
	now     func() time.Time

	state  State
	record Record
	key    KeyState
}

// Open loads the account's record. An existing record starts locked.
func Open(store RecordStore, account string, params Params) (*Wallet, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, clierr.New(clierr.CodeUsage, "wallet account must not be empty")
	}
	w := &Wallet{account: account, store: store, params: params, now: time.Now, state: StateAbsent, key: LockedKey{}}
	rec, ok, err := store.Get(account)
	if err != nil {
		return nil, err
	}
	if ok {
		w.record = rec
		w.state = StateLocked
	}
	return w, nil
}

func (w *Wallet) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Wallet) Address() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateAbsent || w.state == StateDeleted {
		return common.Address{}, false
	}
	return common.HexToAddress(w.record.Address), true
}

func (w *Wallet) Info() model.WalletInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := model.WalletInfo{Account: w.account, State: string(w.state)}
	if w.state != StateAbsent && w.state != StateDeleted {
		info.Address = w.record.Address
		info.CreatedAt = w.record.CreatedAt
	}
	return info
}

// Create generates a fresh key, persists it encrypted and leaves the wallet unlocked.
func (w *Wallet) Create(password string) (common.Address, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "generate private key", err)
	}
	raw := crypto.FromECDSA(pk)
	defer zero(raw)
	return w.install(raw, password)
}

// Import stores an existing hex private key.
func (w *Wallet) Import(privateKeyHex, password string) (common.Address, error) {
	raw, err := signer.ParseHexKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	defer zero(raw)
	return w.install(raw, password)
}

func (w *Wallet) install(raw []byte, password string) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateAbsent && w.state != StateDeleted {
		return common.Address{}, clierr.New(clierr.CodeWalletExists, fmt.Sprintf("wallet %q already exists; delete it first", w.account))
	}
	sealed, err := Encrypt(raw, password, w.params)
	if err != nil {
		return common.Address{}, err
	}
	unlocked, err := newUnlockedKey(raw)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInvalidKeyMaterial, "invalid private key", err)
	}
	rec := Record{
		Account:      w.account,
		Address:      unlocked.address.Hex(),
		EncryptedKey: sealed,
		CreatedAt:    w.now().UTC().Truncate(time.Second),
	}
	if err := w.store.Put(rec); err != nil {
		unlocked.wipe()
		return common.Address{}, err
	}
	w.record = rec
	w.key = unlocked
	w.state = StateUnlocked
	return unlocked.address, nil
}

// Unlock decrypts the record and checks that the key derives the stored address.
func (w *Wallet) Unlock(password string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateAbsent, StateDeleted:
		return clierr.New(clierr.CodeWalletAbsent, fmt.Sprintf("no wallet for account %q", w.account))
	case StateUnlocked:
		return nil
	}
	raw, err := Decrypt(w.record.EncryptedKey, password)
	if err != nil {
		return err
	}
	defer zero(raw)
	unlocked, err := newUnlockedKey(raw)
	if err != nil {
		return clierr.Wrap(clierr.CodeInvalidPassword, "could not decrypt wallet", err)
	}
	if !strings.EqualFold(unlocked.address.Hex(), w.record.Address) {
		unlocked.wipe()
		return clierr.New(clierr.CodeInvalidPassword, "decrypted key does not match wallet address")
	}
	w.key = unlocked
	w.state = StateUnlocked
	return nil
}

// Lock discards the in-memory key. The encrypted record is untouched.
func (w *Wallet) Lock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateUnlocked {
		return
	}
	w.wipeLocked()
	w.state = StateLocked
}

// Delete removes the persisted record. It is terminal for this wallet until
// an explicit Create or Import.
func (w *Wallet) Delete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateAbsent || w.state == StateDeleted {
		return clierr.New(clierr.CodeWalletAbsent, fmt.Sprintf("no wallet for account %q", w.account))
	}
	if err := w.store.Delete(w.account); err != nil {
		return err
	}
	w.wipeLocked()
	w.record = Record{}
	w.state = StateDeleted
	return nil
}

func (w *Wallet) KeyState() KeyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

// Signer returns a chain-bound signer, or false while the wallet is not unlocked.
func (w *Wallet) Signer(chainID int64) (signer.Signer, bool) {
	return CreateSigner(w.KeyState(), chainID)
}

func (w *Wallet) wipeLocked() {
	if unlocked, ok := w.key.(*UnlockedKey); ok {
		unlocked.wipe()
	}
	w.key = LockedKey{}
}
