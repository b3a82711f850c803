package custody

import (
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func testKey(t *testing.T) []byte {
	t.Helper()
	raw, err := hex.DecodeString(testPrivateKey)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	return raw
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "wallets.db"), filepath.Join(dir, "wallets.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	sealed, err := Encrypt(key, "correct horse", LightParams)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if strings.Contains(string(sealed), testPrivateKey) {
		t.Fatal("ciphertext leaks the plaintext key")
	}
	got, err := Decrypt(sealed, "correct horse")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if hex.EncodeToString(got) != testPrivateKey {
		t.Fatalf("round trip mismatch: %x", got)
	}
}

func TestDecryptWrongPasswordNeverYieldsKey(t *testing.T) {
	sealed, err := Encrypt(testKey(t), "pw-1", LightParams)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := Decrypt(sealed, "pw-2")
	if !clierr.Is(err, clierr.CodeInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if got != nil {
		t.Fatal("expected no key bytes on failure")
	}
}

func TestDecryptTamperedCiphertextIsInvalidPassword(t *testing.T) {
	sealed, err := Encrypt(testKey(t), "pw", LightParams)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	var cj keystore.CryptoJSON
	if err := json.Unmarshal(sealed, &cj); err != nil {
		t.Fatalf("decode crypto json: %v", err)
	}
	ct, _ := hex.DecodeString(cj.CipherText)
	ct[0] ^= 0xff
	cj.CipherText = hex.EncodeToString(ct)
	tampered, _ := json.Marshal(cj)

	if _, err := Decrypt(tampered, "pw"); !clierr.Is(err, clierr.CodeInvalidPassword) {
		t.Fatalf("expected invalid password for tampered ciphertext, got %v", err)
	}
	if _, err := Decrypt([]byte("not json"), "pw"); !clierr.Is(err, clierr.CodeInvalidPassword) {
		t.Fatalf("expected invalid password for garbage, got %v", err)
	}
}

func TestEncryptRejectsBadKeyMaterial(t *testing.T) {
	for _, key := range [][]byte{nil, make([]byte, 31), make([]byte, 32), []byte(strings.Repeat("\xff", 32))} {
		if _, err := Encrypt(key, "pw", LightParams); !clierr.Is(err, clierr.CodeInvalidKeyMaterial) {
			t.Fatalf("expected invalid key material for %x, got %v", key, err)
		}
	}
	if _, err := Encrypt(testKey(t), "", LightParams); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for empty password, got %v", err)
	}
}

func TestCreateSignerRejectsLockedKey(t *testing.T) {
	if _, ok := CreateSigner(LockedKey{}, 137); ok {
		t.Fatal("locked key must not produce a signer")
	}
	unlocked, err := newUnlockedKey(testKey(t))
	if err != nil {
		t.Fatalf("newUnlockedKey failed: %v", err)
	}
	s, ok := CreateSigner(unlocked, 137)
	if !ok {
		t.Fatal("expected signer for unlocked key")
	}
	if s.ChainID().Int64() != 137 {
		t.Fatalf("unexpected chain %s", s.ChainID())
	}
	unlocked.wipe()
	if _, ok := CreateSigner(unlocked, 137); ok {
		t.Fatal("wiped key must not produce a signer")
	}
}

func TestWalletLifecycle(t *testing.T) {
	store := openTestStore(t)
	w, err := Open(store, "default", LightParams)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if w.State() != StateAbsent {
		t.Fatalf("expected absent wallet, got %s", w.State())
	}
	if err := w.Unlock("pw"); !clierr.Is(err, clierr.CodeWalletAbsent) {
		t.Fatalf("expected wallet absent, got %v", err)
	}

	addr, err := w.Create("pw")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if w.State() != StateUnlocked {
		t.Fatalf("created wallet should be unlocked, got %s", w.State())
	}
	if s, ok := w.Signer(137); !ok || s.Address() != addr {
		t.Fatal("expected signer for the created address")
	}
	if _, err := w.Create("pw"); !clierr.Is(err, clierr.CodeWalletExists) {
		t.Fatalf("expected wallet exists, got %v", err)
	}

	w.Lock()
	if w.State() != StateLocked {
		t.Fatalf("expected locked, got %s", w.State())
	}
	if _, ok := w.KeyState().(LockedKey); !ok {
		t.Fatal("locked wallet must expose the locked sentinel")
	}
	if _, ok := w.Signer(137); ok {
		t.Fatal("locked wallet must not sign")
	}
	if err := w.Unlock("wrong"); !clierr.Is(err, clierr.CodeInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if err := w.Unlock("pw"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if s, ok := w.Signer(137); !ok || s.Address() != addr {
		t.Fatal("expected signer after unlock")
	}

	if err := w.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if w.State() != StateDeleted {
		t.Fatalf("expected deleted, got %s", w.State())
	}
	if err := w.Unlock("pw"); !clierr.Is(err, clierr.CodeWalletAbsent) {
		t.Fatalf("deleted wallet must not unlock, got %v", err)
	}
	if _, ok, _ := store.Get("default"); ok {
		t.Fatal("expected record to be removed")
	}
}

func TestWalletReopensLocked(t *testing.T) {
	store := openTestStore(t)
	w, err := Open(store, "alice", LightParams)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	addr, err := w.Import("0x"+testPrivateKey, "pw")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	pk, _ := crypto.HexToECDSA(testPrivateKey)
	if addr != crypto.PubkeyToAddress(pk.PublicKey) {
		t.Fatalf("unexpected imported address %s", addr.Hex())
	}

	reopened, err := Open(store, "alice", LightParams)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.State() != StateLocked {
		t.Fatalf("expected reopened wallet to be locked, got %s", reopened.State())
	}
	info := reopened.Info()
	if info.Address != addr.Hex() || info.State != string(StateLocked) {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := reopened.Unlock("pw"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
}

func TestWalletUnlockRejectsAddressMismatch(t *testing.T) {
	store := openTestStore(t)
	sealed, err := Encrypt(testKey(t), "pw", LightParams)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err := store.Put(Record{Account: "default", Address: "0x0000000000000000000000000000000000000001", EncryptedKey: sealed}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	w, err := Open(store, "default", LightParams)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := w.Unlock("pw"); !clierr.Is(err, clierr.CodeInvalidPassword) {
		t.Fatalf("expected invalid password on address mismatch, got %v", err)
	}
	if w.State() != StateLocked {
		t.Fatalf("wallet must stay locked, got %s", w.State())
	}
}
