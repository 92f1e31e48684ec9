// Package cryptox implements the cryptographic building blocks of the hub:
// the AES-GCM envelope wrapping all post-handshake frames, the RSA bootstrap
// of per-connection session keys, and the password-bound sealing of user
// identifiers inside reconnect tokens.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/seitanmen/QuickMessenger/internal/common"
)

const gcmNonceSize = 12

// Seal encrypts plaintext with AES-256-GCM under key and returns
// base64(nonce||ciphertext). A new random nonce is generated per call.
func Seal(plaintext, key []byte) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(gcmNonceSize)
	ct := aesgcm.Seal(nil, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Open reverses Seal. It fails if the key is wrong or the data was tampered
// with.
func Open(encoded string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(raw))
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

// SealJSON marshals v to JSON and seals it.
func SealJSON(v any, key []byte) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Seal(plaintext, key)
}

// OpenJSON opens an envelope and unmarshals the plaintext into v.
func OpenJSON(encoded string, key []byte, v any) error {
	plaintext, err := Open(encoded, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

// KeyFromSecret derives a 32-byte AES key from a configured secret string.
// Used for the at-rest encryption of the user database and the audit log.
func KeyFromSecret(secret string) []byte {
	hash := sha256.Sum256([]byte(secret))
	return hash[:]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
