package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/server/wire"
)

const sessionKeyBytes = 32

// Frame is one inbound protocol frame, decrypted and kind-tagged. Raw holds
// the full frame JSON for a kind-specific unmarshal.
type Frame struct {
	Kind wire.Kind
	Raw  json.RawMessage
}

// Client is one connection to a hub. Connect performs the key exchange;
// after that every frame in both directions travels inside the symmetric
// envelope. Inbound frames are delivered on Frames until the socket closes.
type Client struct {
	ws         *websocket.Conn
	sessionKey []byte
	hubKeyPEM  string
	frames     chan Frame

	mu     sync.Mutex // serializes writes
	closed bool
}

// Connect dials the hub's WebSocket endpoint and completes the session-key
// bootstrap: read the hub's RSA public key, mint a fresh AES key, send it
// back RSA-encrypted.
func Connect(ctx context.Context, hubURL string) (*Client, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("hub url: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	var hello wire.ServerPublicKey
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read hub key: %w", err)
	}
	if hello.Type != wire.KindServerPublicKey {
		ws.Close()
		return nil, fmt.Errorf("%w: expected %s, got %s", common.ErrUnknownFrame, wire.KindServerPublicKey, hello.Type)
	}

	key := common.GenerateRandByteArray(sessionKeyBytes)
	sealed, err := cryptox.EncryptForPublicPEM(hello.PublicKey, key)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("seal session key: %w", err)
	}
	if err := ws.WriteJSON(wire.ClientPublicKey{
		Type:                wire.KindClientPublicKey,
		EncryptedSessionKey: sealed,
	}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send session key: %w", err)
	}

	c := &Client{ws: ws, sessionKey: key, hubKeyPEM: hello.PublicKey, frames: make(chan Frame, 16)}
	go c.readLoop()
	return c, nil
}

// Frames delivers inbound frames. The channel closes when the connection
// drops.
func (c *Client) Frames() <-chan Frame { return c.frames }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		kind, raw, err := wire.Decode(data)
		if err != nil {
			continue
		}
		if kind == wire.KindEncrypted {
			var env wire.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			kind, raw, err = wire.OpenEnvelope(&env, c.sessionKey)
			if err != nil {
				continue
			}
		}
		c.frames <- Frame{Kind: kind, Raw: raw}
	}
}

// sendSealed seals v under the session key and writes it.
func (c *Client) sendSealed(v any) error {
	env, err := wire.SealFrame(v, c.sessionKey)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// RegisterOptions carries the optional parts of a registration: a reconnect
// token from a previous session, the password sealing it, and a
// second-factor code when the identity has one enrolled.
type RegisterOptions struct {
	Token    string
	Password string
	TOTPCode string
}

// Register requests an identity under username. The password, when present,
// is RSA-encrypted to the hub so it never crosses the wire in the clear
// outside the session envelope.
func (c *Client) Register(username string, opts RegisterOptions) error {
	reg := wire.Register{
		Type:     wire.KindRegister,
		Username: username,
		Token:    opts.Token,
		TOTPCode: opts.TOTPCode,
	}
	if opts.Password != "" {
		sealed, err := cryptox.EncryptForPublicPEM(c.hubKeyPEM, []byte(opts.Password))
		if err != nil {
			return fmt.Errorf("seal password: %w", err)
		}
		reg.Password = sealed
		reg.PasswordEncrypted = true
	}
	return c.sendSealed(reg)
}

// Send routes a chat message; to is a user identifier or
// common.BroadcastRecipient.
func (c *Client) Send(from, to, content string) error {
	return c.sendSealed(wire.Message{Type: wire.KindMessage, From: from, To: to, Content: content})
}

// SendFile reads path and routes it as a base64-encoded file transfer.
func (c *Client) SendFile(from, to, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return c.sendSealed(wire.File{
		Type:     wire.KindFile,
		From:     from,
		To:       to,
		Filename: filepath.Base(path),
		FileData: base64.StdEncoding.EncodeToString(data),
		FileSize: int64(len(data)),
	})
}

// ChangeUsername requests a new display name for the registered identity.
func (c *Client) ChangeUsername(newName string) error {
	return c.sendSealed(wire.ChangeUsername{Type: wire.KindChangeUsername, NewUsername: newName})
}

// Ping asks the hub for a liveness pong.
func (c *Client) Ping() error {
	return c.sendSealed(wire.Ping{Type: wire.KindPing})
}
