// Package crypto provides encrypted key storage, EIP-712 claim voucher
// signing, and HMAC request authentication for the custody bridge.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// schemaVersion identifies the encrypted-key file layout.
	schemaVersion = 1

	// kdfName records the derivation scheme inside the file, so the file
	// states how to open it rather than relying on matching binaries.
	kdfName = "pbkdf2-sha256"

	// defaultIterations follows the OWASP floor for PBKDF2-HMAC-SHA256.
	defaultIterations = 480_000

	saltLen   = 16
	aesKeyLen = 32
)

// encryptedKeyJSON is the on-disk format for the voucher signing key. The
// KDF parameters travel with the file: raising the iteration count later
// only affects newly written files, and old ones keep decrypting.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`       // base64
	Nonce      string `json:"nonce"`      // base64
	Ciphertext string `json:"ciphertext"` // base64
}

// KeyConfig carries the information LoadKey needs to resolve the voucher
// signing key. Populate it from the signer config section and its
// passphrase environment variable.
type KeyConfig struct {
	// RawPrivateKey is a hex-encoded private key, 0x prefix optional.
	// When set it wins over every other source.
	RawPrivateKey string

	// EncryptedKeyPath points at a JSON file produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// parseKeyHex normalises and validates a secp256k1 private key in hex.
func parseKeyHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
}

func gcmFor(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex-encoded private key under a password with
// PBKDF2-derived AES-256-GCM and returns the JSON blob to write to disk.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	gcm, err := gcmFor(deriveKey(password, salt, defaultIterations))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	blob := encryptedKeyJSON{
		Version:    schemaVersion,
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	// Indented so operators can eyeball the file they are deploying.
	return json.MarshalIndent(blob, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey and returns the private
// key as bare hex without the 0x prefix.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if stored.Version != schemaVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}
	if stored.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported kdf %q", stored.KDF)
	}
	if stored.Iterations <= 0 {
		return "", fmt.Errorf("crypto: invalid iteration count %d", stored.Iterations)
	}

	fields := map[string]string{
		"salt":       stored.Salt,
		"nonce":      stored.Nonce,
		"ciphertext": stored.Ciphertext,
	}
	decoded := make(map[string][]byte, len(fields))
	for name, val := range fields {
		raw, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", name, err)
		}
		decoded[name] = raw
	}

	gcm, err := gcmFor(deriveKey(password, decoded["salt"], stored.Iterations))
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, decoded["nonce"], decoded["ciphertext"], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt failed, likely wrong password: %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the signing key: a raw hex key wins, then an encrypted
// key file, and with neither configured it fails.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		raw, err := parseKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no key source configured")
}
