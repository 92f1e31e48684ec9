// Package audit keeps the append-only log of security-relevant events.
// Every line is an independently AES-GCM-encrypted JSON entry, so the log
// can be appended without rewriting and partially recovered if truncated.
package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seitanmen/QuickMessenger/internal/cryptox"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
)

const fileName = "audit.log"

const (
	EventRegistered  = "registered"
	EventReconnected = "reconnected"
)

type Log struct {
	mu   sync.Mutex
	path string
	key  []byte
}

func NewLog(dir string, key []byte) *Log {
	return &Log{path: filepath.Join(dir, fileName), key: key}
}

// Record appends one encrypted entry.
func (l *Log) Record(ctx context.Context, entry models.AuditEntry) error {
	sealed, err := cryptox.SealJSON(entry, l.key)
	if err != nil {
		return fmt.Errorf("seal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(sealed + "\n"); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Entries decrypts and returns all recorded entries in append order.
func (l *Log) Entries(ctx context.Context) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []models.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var entry models.AuditEntry
		if err := cryptox.OpenJSON(line, l.key, &entry); err != nil {
			return nil, fmt.Errorf("decrypt audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}
