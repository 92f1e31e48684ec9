// Package auth implements the reconnect-token scheme: signed, time-bounded
// JWTs whose user identifier is sealed under the user's password, optionally
// bound to the issuing connection's address, plus the optional TOTP second
// factor.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/netx"
)

// Claims are the reconnect-token claims. EncryptedUserID is the user
// identifier sealed under the user's password (cryptox.SealWithPassword);
// IP, when present, is the address the token was issued to.
type Claims struct {
	jwt.RegisteredClaims
	EncryptedUserID string `json:"encryptedUserId"`
	IP              string `json:"ip,omitempty"`
}

// TokenAuthority issues and validates reconnect tokens.
type TokenAuthority struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenAuthority(secret string, ttl time.Duration) *TokenAuthority {
	return &TokenAuthority{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token for userID: the identifier is sealed under password
// (empty passwords are valid keys) and the token is bound to remoteIP.
func (a *TokenAuthority) Issue(userID, password, remoteIP string) (string, error) {
	sealed, err := cryptox.SealWithPassword(userID, password)
	if err != nil {
		return "", fmt.Errorf("seal user id: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		EncryptedUserID: sealed,
		IP:              remoteIP,
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Recover validates a presented token and recovers the user identifier it
// protects.
//
// Checks, in order: signature and expiry; address class when the token
// carries an IP (exact match, or both private/loopback — see
// netx.SameAddressClass); then the password seal. A non-empty password that
// fails to open the seal is retried once with the empty password, preserving
// compatibility with clients that never set one.
func (a *TokenAuthority) Recover(tokenString, password, remoteIP string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	if claims.EncryptedUserID == "" {
		return "", fmt.Errorf("%w: legacy token without sealed user id", common.ErrInvalidToken)
	}

	if claims.IP != "" && !netx.SameAddressClass(claims.IP, remoteIP) {
		return "", common.ErrAddrMismatch
	}

	userID, err := cryptox.OpenWithPassword(claims.EncryptedUserID, password)
	if err != nil && password != "" && errors.Is(err, common.ErrBadPassword) {
		userID, err = cryptox.OpenWithPassword(claims.EncryptedUserID, "")
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
