package custody

import (
	"crypto/ecdsa"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

const keyLength = 32

// Params are the scrypt cost parameters. The salt is random per encryption;
// the password is the only secret.
type Params struct {
	ScryptN int
	ScryptP int
}

var (
	StandardParams = Params{ScryptN: keystore.StandardScryptN, ScryptP: keystore.StandardScryptP}
	LightParams    = Params{ScryptN: keystore.LightScryptN, ScryptP: keystore.LightScryptP}
)

func ParamsFor(mode string) Params {
	if strings.EqualFold(strings.TrimSpace(mode), "light") {
		return LightParams
	}
	return StandardParams
}

// Encrypt seals a raw secp256k1 private key under password using the keystore
// v3 construction (scrypt, AES-128-CTR, keccak MAC) and returns its JSON form.
func Encrypt(key []byte, password string, params Params) ([]byte, error) {
	if _, err := toECDSA(key); err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidKeyMaterial, "invalid private key", err)
	}
	if password == "" {
		return nil, clierr.New(clierr.CodeUsage, "password must not be empty")
	}
	if params.ScryptN <= 0 || params.ScryptP <= 0 {
		params = StandardParams
	}
	sealed, err := keystore.EncryptDataV3(key, []byte(password), params.ScryptN, params.ScryptP)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encrypt private key", err)
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode encrypted key", err)
	}
	return out, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any failure, including a
// result that is not a usable private key, is reported as InvalidPassword.
func Decrypt(ciphertext []byte, password string) ([]byte, error) {
	var sealed keystore.CryptoJSON
	if err := json.Unmarshal(ciphertext, &sealed); err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidPassword, "unreadable encrypted key", err)
	}
	key, err := keystore.DecryptDataV3(sealed, password)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidPassword, "could not decrypt wallet", err)
	}
	if _, err := toECDSA(key); err != nil {
		zero(key)
		return nil, clierr.Wrap(clierr.CodeInvalidPassword, "could not decrypt wallet", err)
	}
	return key, nil
}

func toECDSA(key []byte) (*ecdsa.PrivateKey, error) {
	if len(key) != keyLength {
		return nil, clierr.New(clierr.CodeInvalidKeyMaterial, "private key must be 32 bytes")
	}
	return crypto.ToECDSA(key)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
