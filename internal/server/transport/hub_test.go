package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/server/audit"
	"github.com/seitanmen/QuickMessenger/internal/server/auth"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
	"github.com/seitanmen/QuickMessenger/internal/server/router"
	"github.com/seitanmen/QuickMessenger/internal/server/sessions"
	"github.com/seitanmen/QuickMessenger/internal/server/users"
	"github.com/seitanmen/QuickMessenger/internal/server/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemRepo() *memRepo { return &memRepo{users: make(map[string]*models.User)} }

func (m *memRepo) Get(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) Save(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type memHistory struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (m *memHistory) Append(_ context.Context, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memHistory) all() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.msgs...)
}

type testEnv struct {
	srv     *httptest.Server
	hub     *Hub
	history *memHistory
	audit   *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	keypair, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	auditKey := cryptox.KeyFromSecret("test-aes-secret")
	auditLog := audit.NewLog(t.TempDir(), auditKey)

	registry := sessions.NewRegistry()
	tokens := auth.NewTokenAuthority("test-jwt-secret", time.Hour)
	userService := users.NewService(newMemRepo(), tokens, false)

	hub := NewHub(keypair, registry, userService, auditLog, logger)
	history := &memHistory{}
	hub.SetRouter(router.New(history, hub, logger))

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", hub.HandleWS)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, hub: hub, history: history, audit: auditLog}
}

// testClient drives one WebSocket connection through the handshake protocol
// the way a real client would.
type testClient struct {
	t          *testing.T
	ws         *websocket.Conn
	sessionKey []byte
}

func (env *testEnv) dial(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return &testClient{t: t, ws: ws}
}

// handshake reads the hub's public key and negotiates a session key.
func (c *testClient) handshake() {
	c.t.Helper()

	var hello wire.ServerPublicKey
	require.NoError(c.t, c.ws.ReadJSON(&hello))
	require.Equal(c.t, wire.KindServerPublicKey, hello.Type)
	require.NotEmpty(c.t, hello.PublicKey)

	c.sessionKey = common.GenerateRandByteArray(32)
	sealed, err := cryptox.EncryptForPublicPEM(hello.PublicKey, c.sessionKey)
	require.NoError(c.t, err)

	require.NoError(c.t, c.ws.WriteJSON(wire.ClientPublicKey{
		Type:                wire.KindClientPublicKey,
		EncryptedSessionKey: sealed,
	}))
}

func (c *testClient) sendSealed(v any) {
	c.t.Helper()
	env, err := wire.SealFrame(v, c.sessionKey)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(env))
}

// readFrame reads one inbound frame, unwrapping the envelope when present.
func (c *testClient) readFrame() (wire.Kind, json.RawMessage) {
	c.t.Helper()

	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)

	kind, raw, err := wire.Decode(data)
	require.NoError(c.t, err)
	if kind != wire.KindEncrypted {
		return kind, raw
	}

	var env wire.Envelope
	require.NoError(c.t, json.Unmarshal(raw, &env))
	inner, innerRaw, err := wire.OpenEnvelope(&env, c.sessionKey)
	require.NoError(c.t, err)
	return inner, innerRaw
}

// register runs a registration and collects the success reply plus the
// user-list broadcast that follows it.
func (c *testClient) register(reg wire.Register) wire.RegistrationSuccess {
	c.t.Helper()

	reg.Type = wire.KindRegister
	c.sendSealed(reg)

	kind, raw := c.readFrame()
	require.Equal(c.t, wire.KindRegistrationSuccess, kind)

	var success wire.RegistrationSuccess
	require.NoError(c.t, json.Unmarshal(raw, &success))

	kind, _ = c.readFrame()
	require.Equal(c.t, wire.KindUserList, kind)
	return success
}

func TestHubRegistration(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	c.handshake()

	success := c.register(wire.Register{Username: "alice", Password: "hunter2"})
	assert.Equal(t, "alice", success.Username)
	assert.NotEmpty(t, success.UserID)
	assert.NotEmpty(t, success.Token)

	entries, err := env.audit.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventRegistered, entries[0].Event)
	assert.Equal(t, success.UserID, entries[0].UserID)
}

func TestHubReconnectKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)

	first := env.dial(t)
	first.handshake()
	success := first.register(wire.Register{Username: "alice", Password: "hunter2"})
	first.ws.Close()

	second := env.dial(t)
	second.handshake()
	again := second.register(wire.Register{Token: success.Token, Password: "hunter2"})

	assert.Equal(t, success.UserID, again.UserID)
	assert.Equal(t, "alice", again.Username)
	assert.NotEmpty(t, again.Token)

	entries, err := env.audit.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.EventReconnected, entries[1].Event)
}

func TestHubDuplicateUsernameRejected(t *testing.T) {
	env := newTestEnv(t)

	first := env.dial(t)
	first.handshake()
	first.register(wire.Register{Username: "alice"})

	second := env.dial(t)
	second.handshake()
	second.sendSealed(wire.Register{Type: wire.KindRegister, Username: "alice"})

	kind, raw := second.readFrame()
	require.Equal(t, wire.KindRegistrationError, kind)

	var regErr wire.RegistrationError
	require.NoError(t, json.Unmarshal(raw, &regErr))
	assert.Contains(t, regErr.Error, "already in use")
}

func TestHubDirectMessageDelivery(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	alice.handshake()
	aliceID := alice.register(wire.Register{Username: "alice"}).UserID

	bob := env.dial(t)
	bob.handshake()
	bobID := bob.register(wire.Register{Username: "bob"}).UserID

	// Alice sees the user-list broadcast triggered by Bob's registration.
	kind, _ := alice.readFrame()
	require.Equal(t, wire.KindUserList, kind)

	alice.sendSealed(wire.Message{Type: wire.KindMessage, From: aliceID, To: bobID, Content: "hi bob"})

	kind, raw := bob.readFrame()
	require.Equal(t, wire.KindMessage, kind)

	var msg wire.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "hi bob", msg.Content)
	assert.Equal(t, aliceID, msg.From)
	assert.NotEmpty(t, msg.Timestamp)

	// History records the message even though delivery already happened.
	require.Eventually(t, func() bool { return len(env.history.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi bob", env.history.all()[0].Content)
}

func TestHubBroadcastMessage(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	alice.handshake()
	aliceID := alice.register(wire.Register{Username: "alice"}).UserID

	bob := env.dial(t)
	bob.handshake()
	bob.register(wire.Register{Username: "bob"})

	kind, _ := alice.readFrame() // user list after bob joined
	require.Equal(t, wire.KindUserList, kind)

	alice.sendSealed(wire.Message{Type: wire.KindMessage, From: aliceID, To: common.BroadcastRecipient, Content: "hello everyone"})

	for _, c := range []*testClient{alice, bob} {
		kind, raw := c.readFrame()
		require.Equal(t, wire.KindMessage, kind)
		var msg wire.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "hello everyone", msg.Content)
	}
}

func TestHubPingPong(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	c.handshake()
	c.register(wire.Register{Username: "alice"})

	c.sendSealed(wire.Ping{Type: wire.KindPing})

	kind, raw := c.readFrame()
	require.Equal(t, wire.KindPong, kind)

	var pong wire.Pong
	require.NoError(t, json.Unmarshal(raw, &pong))
	assert.NotEmpty(t, pong.Timestamp)
}

func TestHubChangeUsername(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	c.handshake()
	userID := c.register(wire.Register{Username: "alice"}).UserID

	c.sendSealed(wire.ChangeUsername{Type: wire.KindChangeUsername, NewUsername: "alice2"})

	kind, raw := c.readFrame()
	require.Equal(t, wire.KindUsernameChanged, kind)

	var changed wire.UsernameChanged
	require.NoError(t, json.Unmarshal(raw, &changed))
	assert.Equal(t, userID, changed.UserID)
	assert.Equal(t, "alice", changed.OldUsername)
	assert.Equal(t, "alice2", changed.NewUsername)

	kind, raw = c.readFrame()
	require.Equal(t, wire.KindUserList, kind)

	var list wire.UserList
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice2", list.Users[0].Name)
}

func TestHubChangeUsernameConflict(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	alice.handshake()
	alice.register(wire.Register{Username: "alice"})

	bob := env.dial(t)
	bob.handshake()
	bob.register(wire.Register{Username: "bob"})

	bob.sendSealed(wire.ChangeUsername{Type: wire.KindChangeUsername, NewUsername: "alice"})

	kind, raw := bob.readFrame()
	require.Equal(t, wire.KindUsernameChangeError, kind)

	var changeErr wire.UsernameChangeError
	require.NoError(t, json.Unmarshal(raw, &changeErr))
	assert.Contains(t, changeErr.Error, "already in use")
}

func TestHubDisconnectBroadcastsUserList(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	alice.handshake()
	alice.register(wire.Register{Username: "alice"})

	bob := env.dial(t)
	bob.handshake()
	bob.register(wire.Register{Username: "bob"})

	kind, _ := alice.readFrame() // user list after bob joined
	require.Equal(t, wire.KindUserList, kind)

	bob.ws.Close()

	kind, raw := alice.readFrame()
	require.Equal(t, wire.KindUserList, kind)

	var list wire.UserList
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice", list.Users[0].Name)
}

func TestHubRejectsPrematureFrames(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)

	var hello wire.ServerPublicKey
	require.NoError(t, c.ws.ReadJSON(&hello))

	// No key exchange happened; a chat message must be dropped, and the
	// connection must stay usable.
	require.NoError(t, c.ws.WriteJSON(wire.Message{Type: wire.KindMessage, Content: "early"}))

	c.sessionKey = common.GenerateRandByteArray(32)
	sealed, err := cryptox.EncryptForPublicPEM(hello.PublicKey, c.sessionKey)
	require.NoError(t, err)
	require.NoError(t, c.ws.WriteJSON(wire.ClientPublicKey{
		Type:                wire.KindClientPublicKey,
		EncryptedSessionKey: sealed,
	}))
	success := c.register(wire.Register{Username: "alice"})
	assert.NotEmpty(t, success.UserID)
	assert.Empty(t, env.history.all())
}
