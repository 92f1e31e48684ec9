// Package wire defines the JSON frames exchanged between the hub and its
// clients, and the encrypted envelope wrapping every post-handshake frame.
// Frame kinds form a closed set; anything else is rejected at decode time.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
)

// Kind tags a frame. The set is closed: Decode rejects unknown kinds instead
// of silently ignoring them.
type Kind string

const (
	// Handshake frames, sent in the clear.
	KindServerPublicKey Kind = "server_public_key"
	KindClientPublicKey Kind = "client_public_key"

	// The symmetric envelope carrying every post-handshake frame.
	KindEncrypted Kind = "encrypted"

	// Client-to-hub frames.
	KindRegister       Kind = "register"
	KindMessage        Kind = "message"
	KindFile           Kind = "file"
	KindPing           Kind = "ping"
	KindChangeUsername Kind = "change_username"

	// Hub-to-client frames.
	KindRegistrationSuccess Kind = "registration_success"
	KindRegistrationError   Kind = "registration_error"
	KindUserList            Kind = "user_list"
	KindPong                Kind = "pong"
	KindUsernameChanged     Kind = "username_changed"
	KindUsernameChangeError Kind = "username_change_error"
)

var knownKinds = map[Kind]struct{}{
	KindServerPublicKey:     {},
	KindClientPublicKey:     {},
	KindEncrypted:           {},
	KindRegister:            {},
	KindMessage:             {},
	KindFile:                {},
	KindPing:                {},
	KindChangeUsername:      {},
	KindRegistrationSuccess: {},
	KindRegistrationError:   {},
	KindUserList:            {},
	KindPong:                {},
	KindUsernameChanged:     {},
	KindUsernameChangeError: {},
}

// ServerPublicKey announces the hub's long-lived RSA public key on connect.
type ServerPublicKey struct {
	Type      Kind   `json:"type"`
	PublicKey string `json:"publicKey"`
}

// ClientPublicKey carries the client's public key and the fresh session key
// encrypted to the hub's public key.
type ClientPublicKey struct {
	Type                Kind   `json:"type"`
	PublicKey           string `json:"publicKey"`
	EncryptedSessionKey string `json:"encryptedSessionKey"`
}

// Envelope wraps a frame encrypted under the per-connection session key.
type Envelope struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

// Register is a registration or reconnection attempt. All fields beyond the
// desired username are optional; Password may arrive RSA-encrypted to the
// hub's public key when PasswordEncrypted is set.
type Register struct {
	Type              Kind   `json:"type"`
	Username          string `json:"username,omitempty"`
	Token             string `json:"token,omitempty"`
	Password          string `json:"password,omitempty"`
	PasswordEncrypted bool   `json:"passwordEncrypted,omitempty"`
	TOTPCode          string `json:"totpCode,omitempty"`
}

// Message is a chat message. To is a user identifier or
// common.BroadcastRecipient.
type Message struct {
	Type      Kind   `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// File is a binary transfer; FileData is base64 of the raw bytes.
type File struct {
	Type      Kind   `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Filename  string `json:"filename"`
	FileData  string `json:"fileData"`
	FileSize  int64  `json:"fileSize,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Ping struct {
	Type Kind `json:"type"`
}

type Pong struct {
	Type      Kind   `json:"type"`
	Timestamp string `json:"timestamp"`
}

type ChangeUsername struct {
	Type        Kind   `json:"type"`
	NewUsername string `json:"newUsername"`
}

// RegistrationSuccess confirms a registration. TOTPSecret is present only
// when the hub just enrolled a second factor for a brand-new identity.
type RegistrationSuccess struct {
	Type       Kind   `json:"type"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Token      string `json:"token"`
	TOTPSecret string `json:"totpSecret,omitempty"`
}

type RegistrationError struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserList struct {
	Type  Kind       `json:"type"`
	Users []UserInfo `json:"users"`
}

type UsernameChanged struct {
	Type        Kind   `json:"type"`
	UserID      string `json:"userId"`
	OldUsername string `json:"oldUsername"`
	NewUsername string `json:"newUsername"`
}

type UsernameChangeError struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

// Decode extracts the kind tag from a raw frame and returns the raw bytes
// for a kind-specific unmarshal. Unknown kinds fail with
// common.ErrUnknownFrame.
func Decode(data []byte) (Kind, json.RawMessage, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	if _, ok := knownKinds[head.Type]; !ok {
		return head.Type, nil, fmt.Errorf("%w: %q", common.ErrUnknownFrame, head.Type)
	}
	return head.Type, json.RawMessage(data), nil
}

// SealFrame encrypts a frame under the session key and wraps it in an
// Envelope.
func SealFrame(v any, sessionKey []byte) (*Envelope, error) {
	content, err := cryptox.SealJSON(v, sessionKey)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: KindEncrypted, Content: content}, nil
}

// OpenEnvelope decrypts an Envelope and decodes the inner frame's kind.
func OpenEnvelope(env *Envelope, sessionKey []byte) (Kind, json.RawMessage, error) {
	plaintext, err := cryptox.Open(env.Content, sessionKey)
	if err != nil {
		return "", nil, err
	}
	return Decode(plaintext)
}
