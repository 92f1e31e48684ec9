// Package sessions tracks which users are online: the volatile map from
// user identifier to its single active connection. It is the sole source of
// truth for user-list broadcasts and online-name uniqueness.
package sessions

import (
	"sync"

	"github.com/seitanmen/QuickMessenger/internal/common"
)

// Peer is the live connection bound to a user. Implemented by the transport
// layer's connection type.
type Peer interface {
	// RemoteAddr identifies the connection (peer address and port).
	RemoteAddr() string
	// Established reports whether the symmetric session key has been
	// negotiated.
	Established() bool
	// SendFrame seals a frame under the session key and writes it.
	SendFrame(v any) error
}

// Entry links a user identifier to its active connection.
type Entry struct {
	UserID   string
	Username string
	Peer     Peer
}

type Registry struct {
	mu     sync.Mutex
	byUser map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Entry)}
}

// Bind registers userID as online under username on peer. The online-name
// uniqueness check and the directory update happen under one lock, so two
// racing registrations for the same name cannot both succeed. Re-binding an
// already-online user replaces its entry, never duplicates it.
func (r *Registry) Bind(userID, username string, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.byUser {
		if id != userID && e.Username == username {
			return common.ErrorNameTaken
		}
	}

	r.byUser[userID] = &Entry{UserID: userID, Username: username, Peer: peer}
	return nil
}

// Rename changes an online user's display name, enforcing the same
// uniqueness rule. Returns the previous name.
func (r *Registry) Rename(userID, newName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byUser[userID]
	if !ok {
		return "", common.ErrorNotRegistered
	}
	for id, e := range r.byUser {
		if id != userID && e.Username == newName {
			return "", common.ErrorNameTaken
		}
	}

	old := entry.Username
	entry.Username = newName
	return old, nil
}

// Lookup returns the entry for a user identifier, if online.
func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byUser[userID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// RemoveByPeer drops the entry bound to peer, if any, and returns it. Called
// by the transport layer when a socket closes.
func (r *Registry) RemoveByPeer(peer Peer) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.byUser {
		if e.Peer == peer {
			delete(r.byUser, id)
			return *e, true
		}
	}
	return Entry{}, false
}

// Snapshot returns a copy of all online entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.byUser))
	for _, e := range r.byUser {
		out = append(out, *e)
	}
	return out
}
