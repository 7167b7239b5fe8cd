package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion = 1
	kdfIterations  = 480_000
	kdfKeyLen      = 32
)

// keyFile is the on-disk form of a password-protected wallet key. Byte
// fields are base64 in JSON.
type keyFile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// LoadKey resolves the wallet key as hex without a 0x prefix. A raw key wins
// over keyPath, which is opened with password.
func LoadKey(raw, keyPath, password string) (string, error) {
	switch {
	case raw != "":
		k := strings.TrimPrefix(raw, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto/keyfile: private key is not hex: %w", err)
		}
		return k, nil
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return "", fmt.Errorf("crypto/keyfile: read %s: %w", keyPath, err)
		}
		return openKeyFile(data, password)
	default:
		return "", errors.New("crypto/keyfile: no wallet key configured")
	}
}

func openKeyFile(data []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto/keyfile: parse: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto/keyfile: unsupported version %d", kf.Version)
	}

	gcm, err := keyCipher(password, kf.Salt)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto/keyfile: nonce length %d", len(kf.Nonce))
	}
	plain, err := gcm.Open(nil, kf.Nonce, kf.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keyfile: wrong password or corrupt file: %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// keyCipher derives the AES-256-GCM cipher for password and salt with
// PBKDF2-HMAC-SHA256.
func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto/keyfile: empty password")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: gcm: %w", err)
	}
	return gcm, nil
}
