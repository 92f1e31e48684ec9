package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/server/audit"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
	"github.com/seitanmen/QuickMessenger/internal/server/router"
	"github.com/seitanmen/QuickMessenger/internal/server/sessions"
	"github.com/seitanmen/QuickMessenger/internal/server/users"
	"github.com/seitanmen/QuickMessenger/internal/server/wire"
)

var upgrader = websocket.Upgrader{
	// LAN-local trust assumption: any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub ties a connection table to the session registry, identity service,
// router and audit log. It implements router.PeerSet.
type Hub struct {
	logger   logging.Logger
	keypair  *cryptox.KeyPair
	registry *sessions.Registry
	users    *users.Service
	auditLog *audit.Log
	router   *router.Router

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewHub(keypair *cryptox.KeyPair, registry *sessions.Registry, userService *users.Service, auditLog *audit.Log, logger logging.Logger) *Hub {
	return &Hub{
		logger:   logger.With("module", "hub"),
		keypair:  keypair,
		registry: registry,
		users:    userService,
		auditLog: auditLog,
		conns:    make(map[string]*Conn),
	}
}

// SetRouter wires the router after construction; the router needs the hub as
// its PeerSet.
func (h *Hub) SetRouter(r *router.Router) { h.router = r }

// All returns every live connection.
func (h *Hub) All() []sessions.Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]sessions.Peer, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// ByUser returns the connection currently bound to userID, if any.
func (h *Hub) ByUser(userID string) (sessions.Peer, bool) {
	entry, ok := h.registry.Lookup(userID)
	if !ok {
		return nil, false
	}
	return entry.Peer, true
}

// HandleWS upgrades an HTTP request and runs the connection until the socket
// closes.
func (h *Hub) HandleWS(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	conn := newConn(ws, ws.RemoteAddr().String())

	h.mu.Lock()
	h.conns[conn.RemoteAddr()] = conn
	h.mu.Unlock()

	h.logger.Info(ctx, "client connected", "conn", conn.RemoteAddr())

	// Handshake step 1: announce the hub's public key.
	if err := conn.sendPlain(wire.ServerPublicKey{Type: wire.KindServerPublicKey, PublicKey: h.keypair.PublicPEM()}); err != nil {
		h.logger.Error(ctx, "public key send failed", "conn", conn.RemoteAddr(), "error", err)
	}

	h.readLoop(ctx, conn)
	h.handleClose(ctx, conn)
	return nil
}

func (h *Hub) readLoop(ctx context.Context, conn *Conn) {
	defer conn.ws.Close()
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(ctx, conn, data)
	}
}

// handleFrame dispatches one raw inbound frame. Protocol errors are logged
// and the frame dropped; the connection stays alive.
func (h *Hub) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	kind, raw, err := wire.Decode(data)
	if err != nil {
		h.logger.Warn(ctx, "dropping malformed frame", "conn", conn.RemoteAddr(), "error", err)
		return
	}

	switch kind {
	case wire.KindClientPublicKey:
		h.handleClientKey(ctx, conn, raw)

	case wire.KindEncrypted:
		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn(ctx, "dropping malformed envelope", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		inner, innerRaw, err := conn.openEnvelope(&env)
		if err != nil {
			h.logger.Warn(ctx, "dropping undecryptable frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		h.handleDecrypted(ctx, conn, inner, innerRaw)

	case wire.KindRegister:
		// First-contact registration may arrive before the key exchange.
		var reg wire.Register
		if err := json.Unmarshal(raw, &reg); err != nil {
			h.logger.Warn(ctx, "dropping malformed register frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		h.handleRegister(ctx, conn, reg)

	default:
		h.logger.Warn(ctx, "dropping frame received before key exchange",
			"conn", conn.RemoteAddr(), "kind", string(kind))
	}
}

// handleClientKey completes the handshake: the client's fresh session key
// arrives encrypted under the hub's public key.
func (h *Hub) handleClientKey(ctx context.Context, conn *Conn, raw []byte) {
	var frame wire.ClientPublicKey
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Warn(ctx, "dropping malformed client key frame", "conn", conn.RemoteAddr(), "error", err)
		return
	}

	key, err := h.keypair.Decrypt(frame.EncryptedSessionKey)
	if err != nil {
		h.logger.Warn(ctx, "session key decrypt failed", "conn", conn.RemoteAddr(), "error", err)
		return
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		h.logger.Warn(ctx, "rejecting session key of invalid length", "conn", conn.RemoteAddr(), "len", len(key))
		return
	}

	conn.setSessionKey(key)
	h.logger.Info(ctx, "session key established", "conn", conn.RemoteAddr())
}

func (h *Hub) handleDecrypted(ctx context.Context, conn *Conn, kind wire.Kind, raw []byte) {
	switch kind {
	case wire.KindRegister:
		var reg wire.Register
		if err := json.Unmarshal(raw, &reg); err != nil {
			h.logger.Warn(ctx, "dropping malformed register frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		h.handleRegister(ctx, conn, reg)

	case wire.KindMessage:
		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn(ctx, "dropping malformed message frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		if err := h.router.RouteMessage(ctx, msg); err != nil {
			h.logger.Error(ctx, "message routing failed", "conn", conn.RemoteAddr(), "error", err)
		}

	case wire.KindFile:
		var f wire.File
		if err := json.Unmarshal(raw, &f); err != nil {
			h.logger.Warn(ctx, "dropping malformed file frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		if err := h.router.RouteFile(ctx, f); err != nil && !errors.Is(err, common.ErrPayloadTooLarge) {
			h.logger.Error(ctx, "file routing failed", "conn", conn.RemoteAddr(), "error", err)
		}

	case wire.KindPing:
		if err := conn.SendFrame(wire.Pong{Type: wire.KindPong, Timestamp: time.Now().UTC().Format(time.RFC3339)}); err != nil {
			h.logger.Warn(ctx, "pong send failed", "conn", conn.RemoteAddr(), "error", err)
		}

	case wire.KindChangeUsername:
		var req wire.ChangeUsername
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Warn(ctx, "dropping malformed username change frame", "conn", conn.RemoteAddr(), "error", err)
			return
		}
		h.handleChangeUsername(ctx, conn, req)

	default:
		h.logger.Warn(ctx, "dropping unexpected frame kind", "conn", conn.RemoteAddr(), "kind", string(kind))
	}
}

func (h *Hub) handleRegister(ctx context.Context, conn *Conn, reg wire.Register) {
	password := reg.Password
	if reg.PasswordEncrypted && reg.Password != "" {
		if decrypted, err := h.keypair.Decrypt(reg.Password); err == nil {
			password = string(decrypted)
		} else {
			// Compatibility fallback: treat the value as a plaintext password.
			h.logger.Warn(ctx, "password decrypt failed, using raw value", "conn", conn.RemoteAddr())
		}
	}

	identity, err := h.users.Resolve(ctx, users.RegisterInput{
		Username: reg.Username,
		Token:    reg.Token,
		Password: password,
		TOTPCode: reg.TOTPCode,
		RemoteIP: conn.RemoteIP(),
	})
	if err != nil {
		h.logger.Warn(ctx, "registration rejected", "conn", conn.RemoteAddr(), "error", err)
		h.sendRegistrationError(conn, registrationErrorText(err))
		return
	}

	// Uniqueness check and directory update are atomic inside Bind.
	if err := h.registry.Bind(identity.User.ID, identity.User.Username, conn); err != nil {
		h.logger.Warn(ctx, "registration rejected", "conn", conn.RemoteAddr(),
			"username", identity.User.Username, "error", err)
		h.sendRegistrationError(conn, registrationErrorText(err))
		return
	}

	token, err := h.users.Commit(ctx, identity, password, conn.RemoteIP())
	if err != nil {
		h.registry.RemoveByPeer(conn)
		h.logger.Error(ctx, "registration commit failed", "conn", conn.RemoteAddr(), "error", err)
		h.sendRegistrationError(conn, "Registration failed.")
		return
	}

	conn.bindUser(identity.User.ID, identity.User.Username)

	reply := wire.RegistrationSuccess{
		Type:       wire.KindRegistrationSuccess,
		UserID:     identity.User.ID,
		Username:   identity.User.Username,
		Token:      token,
		TOTPSecret: identity.TOTPSecret,
	}
	if err := conn.send(reply); err != nil {
		h.logger.Error(ctx, "registration reply failed", "conn", conn.RemoteAddr(), "error", err)
	}

	event := audit.EventRegistered
	if identity.Reconnect {
		event = audit.EventReconnected
	}
	if err := h.auditLog.Record(ctx, models.AuditEntry{
		Event:     event,
		UserID:    identity.User.ID,
		Username:  identity.User.Username,
		Addr:      conn.RemoteAddr(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Error(ctx, "audit write failed", "error", err)
	}

	h.logger.Info(ctx, event, "user", identity.User.ID, "username", identity.User.Username, "conn", conn.RemoteAddr())
	h.BroadcastUserList(ctx)
}

func (h *Hub) handleChangeUsername(ctx context.Context, conn *Conn, req wire.ChangeUsername) {
	userID := conn.UserID()
	if userID == "" || req.NewUsername == "" {
		h.sendUsernameChangeError(conn, "Not registered.")
		return
	}

	oldName, err := h.registry.Rename(userID, req.NewUsername)
	if err != nil {
		h.sendUsernameChangeError(conn, usernameChangeErrorText(err))
		return
	}

	if _, err := h.users.Rename(ctx, userID, req.NewUsername); err != nil {
		// Keep registry and store consistent: roll the rename back.
		h.registry.Rename(userID, oldName)
		h.logger.Error(ctx, "username persist failed", "user", userID, "error", err)
		h.sendUsernameChangeError(conn, "Username change failed.")
		return
	}

	conn.setUsername(req.NewUsername)
	h.logger.Info(ctx, "username changed", "user", userID, "old", oldName, "new", req.NewUsername)

	h.router.Broadcast(ctx, wire.UsernameChanged{
		Type:        wire.KindUsernameChanged,
		UserID:      userID,
		OldUsername: oldName,
		NewUsername: req.NewUsername,
	})
	h.BroadcastUserList(ctx)
}

// BroadcastUserList pushes the current online-user snapshot to every
// established session.
func (h *Hub) BroadcastUserList(ctx context.Context) {
	entries := h.registry.Snapshot()
	list := wire.UserList{Type: wire.KindUserList, Users: make([]wire.UserInfo, 0, len(entries))}
	for _, e := range entries {
		list.Users = append(list.Users, wire.UserInfo{ID: e.UserID, Name: e.Username})
	}
	h.router.Broadcast(ctx, list)
}

func (h *Hub) handleClose(ctx context.Context, conn *Conn) {
	h.mu.Lock()
	delete(h.conns, conn.RemoteAddr())
	h.mu.Unlock()

	h.logger.Info(ctx, "client disconnected", "conn", conn.RemoteAddr())

	if entry, ok := h.registry.RemoveByPeer(conn); ok {
		h.logger.Info(ctx, "user went offline", "user", entry.UserID, "username", entry.Username)
		h.BroadcastUserList(ctx)
	}
}

func (h *Hub) sendRegistrationError(conn *Conn, text string) {
	if err := conn.send(wire.RegistrationError{Type: wire.KindRegistrationError, Error: text}); err != nil {
		h.logger.Warn(context.Background(), "registration error send failed", "conn", conn.RemoteAddr(), "error", err)
	}
}

func (h *Hub) sendUsernameChangeError(conn *Conn, text string) {
	if err := conn.send(wire.UsernameChangeError{Type: wire.KindUsernameChangeError, Error: text}); err != nil {
		h.logger.Warn(context.Background(), "username change error send failed", "conn", conn.RemoteAddr(), "error", err)
	}
}

func registrationErrorText(err error) string {
	switch {
	case errors.Is(err, common.ErrorNameTaken):
		return "Username already in use. Please choose a different username."
	case errors.Is(err, common.ErrTOTPRequired):
		return "Second-factor code required."
	case errors.Is(err, common.ErrTOTPMismatch):
		return "Invalid second-factor code."
	case errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrAddrMismatch),
		errors.Is(err, common.ErrBadPassword):
		return "Invalid or expired token."
	default:
		return "Registration failed."
	}
}

func usernameChangeErrorText(err error) string {
	switch {
	case errors.Is(err, common.ErrorNameTaken):
		return "Username already in use. Please choose a different username."
	case errors.Is(err, common.ErrorNotRegistered):
		return "Not registered."
	default:
		return "Username change failed."
	}
}
