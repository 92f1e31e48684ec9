// Package users implements the identity side of registration: recovering an
// identifier from a reconnect token, minting new identities, verifying the
// optional second factor, and persisting user records.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/server/auth"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
)

// RegisterInput is one registration or reconnection attempt. Password must
// already be decrypted (the transport layer strips RSA wrapping before the
// service sees it).
type RegisterInput struct {
	Username string
	Token    string
	Password string
	TOTPCode string
	RemoteIP string
}

// Identity is the outcome of resolving a RegisterInput. TOTPSecret is set
// only when a second factor was enrolled during this resolution, so the
// client can be shown it exactly once.
type Identity struct {
	User       *models.User
	Reconnect  bool
	TOTPSecret string
}

type Service struct {
	repo       Repository
	tokens     *auth.TokenAuthority
	totpEnroll bool
	now        func() time.Time
}

func NewService(repo Repository, tokens *auth.TokenAuthority, totpEnroll bool) *Service {
	return &Service{repo: repo, tokens: tokens, totpEnroll: totpEnroll, now: time.Now}
}

// Resolve authenticates a registration attempt and returns the identity to
// bind, without mutating the durable store. Callers reject the attempt on
// any error; the sentinel errors in common distinguish token, password and
// second-factor failures.
func (s *Service) Resolve(ctx context.Context, in RegisterInput) (*Identity, error) {
	if in.Token == "" {
		return s.newIdentity(in.Username), nil
	}

	userID, err := s.tokens.Recover(in.Token, in.Password, in.RemoteIP)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// A valid token for an identifier we no longer know about:
			// logically a first registration, so mint a fresh identity.
			return s.newIdentity(in.Username), nil
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	if user.TOTPSecret != "" {
		if in.TOTPCode == "" {
			return nil, common.ErrTOTPRequired
		}
		if !auth.VerifyTOTPCode(in.TOTPCode, user.TOTPSecret, s.now()) {
			return nil, common.ErrTOTPMismatch
		}
	}

	if in.Username != "" && in.Username != user.Username {
		user.Username = in.Username
	}

	return &Identity{User: user, Reconnect: true}, nil
}

// Commit persists the resolved identity and mints a fresh reconnect token
// sealed under the supplied password and bound to the connection's address.
func (s *Service) Commit(ctx context.Context, id *Identity, password, remoteIP string) (string, error) {
	if err := s.repo.Save(ctx, id.User); err != nil {
		return "", fmt.Errorf("persist user: %w", err)
	}
	token, err := s.tokens.Issue(id.User.ID, password, remoteIP)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Rename updates a user's display name in the durable store. Online-name
// collision checks happen in the session registry before this is called.
func (s *Service) Rename(ctx context.Context, userID, newName string) (*models.User, error) {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Username = newName
	if err := s.repo.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) newIdentity(username string) *Identity {
	id := uuid.NewString()
	if username == "" {
		username = "user-" + id[:8]
	}

	out := &Identity{User: &models.User{ID: id, Username: username}}
	if s.totpEnroll {
		secret, err := auth.GenerateTOTPSecret(username)
		if err == nil {
			out.User.TOTPSecret = secret
			out.TOTPSecret = secret
		}
	}
	return out
}
