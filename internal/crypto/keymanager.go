// Package crypto handles signing-key material: loading a hex key from the
// environment or decrypting an encrypted keyfile.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Iterations = 600_000

// encryptedKeyFile is the on-disk format: PBKDF2-derived AES-256-GCM.
type encryptedKeyFile struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Iterations int    `json:"iterations"`
}

// LoadKey returns the signing key from the hex string when set, otherwise
// decrypting the keyfile at path with password.
func LoadKey(hexKey, path, password string) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid private key: %w", err)
		}
		return pk, nil
	}
	if path == "" {
		return nil, fmt.Errorf("crypto: no key material configured")
	}
	return decryptKeyFile(path, password)
}

func decryptKeyFile(path, password string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keyfile: %w", err)
	}
	var kf encryptedKeyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse keyfile: %w", err)
	}

	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ct, err := hex.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	iters := kf.Iterations
	if iters <= 0 {
		iters = pbkdf2Iterations
	}
	dk := pbkdf2.Key([]byte(password), salt, iters, 32, sha256.New)

	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keyfile (wrong password?): %w", err)
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimSpace(strings.TrimPrefix(string(plain), "0x")))
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key invalid: %w", err)
	}
	return pk, nil
}
