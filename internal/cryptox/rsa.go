package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const rsaKeyBits = 2048

// KeyPair is the hub's long-lived RSA identity. Clients encrypt their fresh
// session keys (and optionally passwords) to its public half; the hub is the
// only holder of the private half. Persisting it across restarts means
// reconnecting clients keep trusting the same key.
type KeyPair struct {
	private *rsa.PrivateKey
}

func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{private: key}, nil
}

// LoadOrCreateKeyPair reads the hub key from dir, generating and persisting
// a new one on first start.
func LoadOrCreateKeyPair(dir string) (*KeyPair, error) {
	path := filepath.Join(dir, "hub_key.pem")

	data, err := os.ReadFile(path)
	if err == nil {
		return parsePrivatePEM(data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.private),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("persist key file: %w", err)
	}
	return kp, nil
}

func parsePrivatePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("key file contains no PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return &KeyPair{private: key}, nil
}

// PublicPEM returns the PEM encoding of the public key, as sent to clients
// in the server_public_key frame.
func (kp *KeyPair) PublicPEM() string {
	block := &pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&kp.private.PublicKey),
	}
	return string(pem.EncodeToMemory(block))
}

// Decrypt opens a base64 RSA-OAEP ciphertext produced against the hub's
// public key. Used for the session-key exchange and for passwords sent with
// passwordEncrypted set.
func (kp *KeyPair) Decrypt(b64 string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.private, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptForPublicPEM encrypts plaintext to a PEM-encoded RSA public key and
// returns base64 ciphertext. This is the client half of the session-key
// bootstrap.
func EncryptForPublicPEM(publicPEM string, plaintext []byte) (string, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return "", errors.New("public key contains no PEM block")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
