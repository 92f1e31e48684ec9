// Package users provides the file-backed user repository. The whole record
// map is encrypted at rest with AES-GCM and rewritten wholesale on every
// mutation, matching the hub's last-writer-wins persistence model.
package users

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/filex"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
)

const fileName = "users.db"

type FileRepository struct {
	mu    sync.Mutex
	path  string
	key   []byte
	users map[string]*models.User
}

// NewFileRepository loads the user database from dir, decrypting it with
// key. A missing file yields an empty store.
func NewFileRepository(dir string, key []byte) (*FileRepository, error) {
	r := &FileRepository{
		path:  filepath.Join(dir, fileName),
		key:   key,
		users: make(map[string]*models.User),
	}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user db: %w", err)
	}

	if err := cryptox.OpenJSON(string(data), key, &r.users); err != nil {
		return nil, fmt.Errorf("decrypt user db: %w", err)
	}
	return r, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *FileRepository) Save(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *user
	r.users[user.ID] = &cp
	return r.flush()
}

// flush rewrites the whole encrypted database. Caller holds the lock.
func (r *FileRepository) flush() error {
	sealed, err := cryptox.SealJSON(r.users, r.key)
	if err != nil {
		return fmt.Errorf("encrypt user db: %w", err)
	}
	if err := filex.WriteFileAtomic(r.path, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("write user db: %w", err)
	}
	return nil
}
