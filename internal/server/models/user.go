// Package models defines the server-side data structures the hub persists
// or keeps in memory.
package models

// User is the durable record of an identity. The ID is an opaque random
// token, never reused. TOTPSecret is present once a second factor has been
// enrolled (base32, suitable for time-based code verification).
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	TOTPSecret string `json:"totpSecret,omitempty"`
}
