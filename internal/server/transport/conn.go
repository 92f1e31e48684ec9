// Package transport owns the WebSocket side of the hub: accepting
// connections, driving the per-connection handshake state machine, and
// dispatching decrypted frames to the identity, directory and routing
// layers.
package transport

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/server/wire"
)

// Conn is one live client connection. Its identity is the peer address; the
// session key appears once the key exchange completes and the user binding
// once registration succeeds. All writes are serialized through a mutex
// because broadcasts arrive from other connections' goroutines.
type Conn struct {
	ws   *websocket.Conn
	addr string

	mu         sync.Mutex
	sessionKey []byte
	userID     string
	username   string
}

func newConn(ws *websocket.Conn, addr string) *Conn {
	return &Conn{ws: ws, addr: addr}
}

func (c *Conn) RemoteAddr() string { return c.addr }

// RemoteIP is the host part of the peer address, as bound into reconnect
// tokens.
func (c *Conn) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		return c.addr
	}
	return host
}

func (c *Conn) Established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey != nil
}

func (c *Conn) setSessionKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

func (c *Conn) bindUser(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
}

func (c *Conn) setUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SendFrame seals v under the session key and writes the envelope. Fails
// with common.ErrNoSessionKey before the handshake completes.
func (c *Conn) SendFrame(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionKey == nil {
		return common.ErrNoSessionKey
	}
	env, err := wire.SealFrame(v, c.sessionKey)
	if err != nil {
		return err
	}
	return c.ws.WriteJSON(env)
}

// sendPlain writes v unencrypted. Only handshake frames and registration
// replies on a key-less connection use it.
func (c *Conn) sendPlain(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// send encrypts when a session key exists and falls back to plaintext
// otherwise, matching the registration-reply behavior of the protocol.
func (c *Conn) send(v any) error {
	if c.Established() {
		return c.SendFrame(v)
	}
	return c.sendPlain(v)
}

func (c *Conn) openEnvelope(env *wire.Envelope) (wire.Kind, []byte, error) {
	c.mu.Lock()
	key := c.sessionKey
	c.mu.Unlock()

	if key == nil {
		return "", nil, common.ErrNoSessionKey
	}
	kind, raw, err := wire.OpenEnvelope(env, key)
	return kind, raw, err
}
