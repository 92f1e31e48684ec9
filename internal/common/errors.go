// Package common defines shared constants and sentinel errors used across
// client and server layers of QuickMessenger. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrorNameTaken     = errors.New("username already in use")
	ErrorNotRegistered = errors.New("connection not registered")

	// Token errors (invalid, malformed or stale reconnect token).
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrAddrMismatch  = errors.New("token address mismatch")
	ErrBadPassword   = errors.New("identity recovery failed")
	ErrTOTPRequired  = errors.New("second-factor code required")
	ErrTOTPMismatch  = errors.New("second-factor code mismatch")

	// Protocol errors.
	ErrUnknownFrame    = errors.New("unknown frame kind")
	ErrNoSessionKey    = errors.New("session key not established")
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
)

// BroadcastRecipient is the recipient value meaning "deliver to every
// connected session" rather than a single user.
const BroadcastRecipient = "all"
