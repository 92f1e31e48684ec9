package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/server/audit"
	"github.com/seitanmen/QuickMessenger/internal/server/auth"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
	"github.com/seitanmen/QuickMessenger/internal/server/router"
	"github.com/seitanmen/QuickMessenger/internal/server/sessions"
	"github.com/seitanmen/QuickMessenger/internal/server/transport"
	"github.com/seitanmen/QuickMessenger/internal/server/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

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

type memHistory struct{}

func (memHistory) Append(context.Context, models.Message) error { return nil }

func startHub(t *testing.T) string {
	t.Helper()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	keypair, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	registry := sessions.NewRegistry()
	tokens := auth.NewTokenAuthority("test-jwt-secret", time.Hour)
	service := users.NewService(&memRepo{users: make(map[string]*models.User)}, tokens, false)
	auditLog := audit.NewLog(t.TempDir(), cryptox.KeyFromSecret("test-aes-secret"))

	hub := transport.NewHub(keypair, registry, service, auditLog, logger)
	hub.SetRouter(router.New(memHistory{}, hub, logger))

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", hub.HandleWS)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFrame(t *testing.T, c *Client, want string) json.RawMessage {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-c.Frames():
			require.True(t, ok, "connection closed while waiting for %s", want)
			if string(f.Kind) == want {
				return f.Raw
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClientRegisterAndMessage(t *testing.T) {
	url := startHub(t)
	ctx := context.Background()

	alice, err := Connect(ctx, url)
	require.NoError(t, err)
	defer alice.Close()

	require.NoError(t, alice.Register("alice", RegisterOptions{Password: "hunter2"}))

	var success struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, alice, "registration_success"), &success))
	assert.NotEmpty(t, success.UserID)
	assert.NotEmpty(t, success.Token)

	bob, err := Connect(ctx, url)
	require.NoError(t, err)
	defer bob.Close()
	require.NoError(t, bob.Register("bob", RegisterOptions{}))

	var bobSuccess struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, bob, "registration_success"), &bobSuccess))

	require.NoError(t, alice.Send(success.UserID, bobSuccess.UserID, "hello"))

	var msg struct {
		From    string `json:"from"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, bob, "message"), &msg))
	assert.Equal(t, success.UserID, msg.From)
	assert.Equal(t, "hello", msg.Content)
}

func TestClientReconnectWithToken(t *testing.T) {
	url := startHub(t)
	ctx := context.Background()

	first, err := Connect(ctx, url)
	require.NoError(t, err)
	require.NoError(t, first.Register("alice", RegisterOptions{Password: "hunter2"}))

	var success struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, first, "registration_success"), &success))
	first.Close()

	second, err := Connect(ctx, url)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Register("", RegisterOptions{Token: success.Token, Password: "hunter2"}))

	var again struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, second, "registration_success"), &again))
	assert.Equal(t, success.UserID, again.UserID)
	assert.Equal(t, "alice", again.Username)
}

func TestClientSendFile(t *testing.T) {
	url := startHub(t)
	ctx := context.Background()

	alice, err := Connect(ctx, url)
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Register("alice", RegisterOptions{}))

	var success struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, alice, "registration_success"), &success))

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("file payload"), 0o600))

	require.NoError(t, alice.SendFile(success.UserID, common.BroadcastRecipient, path))

	var file struct {
		Filename string `json:"filename"`
		FileData string `json:"fileData"`
		FileSize int64  `json:"fileSize"`
	}
	require.NoError(t, json.Unmarshal(waitFrame(t, alice, "file"), &file))
	assert.Equal(t, "note.txt", file.Filename)
	assert.Equal(t, int64(len("file payload")), file.FileSize)

	decoded, err := base64.StdEncoding.DecodeString(file.FileData)
	require.NoError(t, err)
	assert.Equal(t, "file payload", string(decoded))
}

func TestClientPing(t *testing.T) {
	url := startHub(t)

	c, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Register("alice", RegisterOptions{}))
	waitFrame(t, c, "registration_success")

	require.NoError(t, c.Ping())
	raw := waitFrame(t, c, "pong")

	var pong struct {
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(raw, &pong))
	assert.NotEmpty(t, pong.Timestamp)
}
