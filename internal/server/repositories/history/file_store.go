// Package history provides the durable append-only message history. The
// backing file is an ordered JSON array rewritten wholesale on every append,
// read back by clients replaying history on startup.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seitanmen/QuickMessenger/internal/filex"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
)

const fileName = "message_history.json"

type FileStore struct {
	mu       sync.Mutex
	path     string
	messages []models.Message
}

// NewFileStore loads existing history from dir; a missing file yields an
// empty store, a corrupt one is an error.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{path: filepath.Join(dir, fileName)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if err := json.Unmarshal(data, &s.messages); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return s, nil
}

// Append adds one message and rewrites the history file.
func (s *FileStore) Append(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)

	data, err := json.MarshalIndent(s.messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := filex.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// All returns a copy of the stored messages in append order.
func (s *FileStore) All(ctx context.Context) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}
