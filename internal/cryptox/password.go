package cryptox

import (
	"encoding/base64"
	"fmt"

	"github.com/seitanmen/QuickMessenger/internal/common"
	"golang.org/x/crypto/argon2"
)

const passwordSaltSize = 16

// deriveKey stretches a user password into a 32-byte AES key. An empty
// password is a valid input: clients that never set one still get a
// well-defined (if weak) key, which the registration flow relies on for
// legacy compatibility.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// SealWithPassword encrypts value under a key derived from password and a
// fresh random salt. Output is base64(salt||nonce||ciphertext). This is the
// identity-recovery primitive: the user identifier embedded in a reconnect
// token is sealed this way, so the token only yields the identity to a
// holder of the original password.
func SealWithPassword(value, password string) (string, error) {
	salt := common.GenerateRandByteArray(passwordSaltSize)
	key := deriveKey(password, salt)
	defer common.WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(gcmNonceSize)
	ct := aesgcm.Seal(nil, nonce, []byte(value), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenWithPassword reverses SealWithPassword. A wrong password surfaces as
// common.ErrBadPassword; the AEAD guarantees it can never silently yield a
// different value.
func OpenWithPassword(encoded, password string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < passwordSaltSize+gcmNonceSize {
		return "", fmt.Errorf("sealed value too short: %d bytes", len(raw))
	}

	salt := raw[:passwordSaltSize]
	nonce := raw[passwordSaltSize : passwordSaltSize+gcmNonceSize]
	ct := raw[passwordSaltSize+gcmNonceSize:]

	key := deriveKey(password, salt)
	defer common.WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", common.ErrBadPassword
	}
	return string(plaintext), nil
}
