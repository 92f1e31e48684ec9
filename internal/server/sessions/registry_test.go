package sessions

import (
	"errors"
	"sync"
	"testing"

	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	addr        string
	established bool
}

func (p *fakePeer) RemoteAddr() string    { return p.addr }
func (p *fakePeer) Established() bool     { return p.established }
func (p *fakePeer) SendFrame(v any) error { return nil }

func TestRegistry_BindAndLookup(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{addr: "10.0.0.1:1"}

	require.NoError(t, r.Bind("u1", "alice", p))

	e, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "alice", e.Username)
	assert.Same(t, p, e.Peer.(*fakePeer))

	_, ok = r.Lookup("u2")
	assert.False(t, ok)
}

func TestRegistry_RebindReplacesEntry(t *testing.T) {
	r := NewRegistry()
	first := &fakePeer{addr: "10.0.0.1:1"}
	second := &fakePeer{addr: "10.0.0.2:2"}

	require.NoError(t, r.Bind("u1", "alice", first))
	require.NoError(t, r.Bind("u1", "alice", second))

	require.Len(t, r.Snapshot(), 1, "at most one entry per user identifier")
	e, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, e.Peer.(*fakePeer))
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Bind("u1", "bob", &fakePeer{addr: "a"}))

	err := r.Bind("u2", "bob", &fakePeer{addr: "b"})
	require.True(t, errors.Is(err, common.ErrorNameTaken))

	// Rebinding the same user under its own name is fine.
	require.NoError(t, r.Bind("u1", "bob", &fakePeer{addr: "c"}))
}

func TestRegistry_ConcurrentNameRace_OneWinner(t *testing.T) {
	r := NewRegistry()

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Bind("user-"+string(rune('a'+i)), "bob", &fakePeer{})
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else if errors.Is(err, common.ErrorNameTaken) {
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one registration wins the name")
	assert.Equal(t, 1, lost, "the other is rejected")
}

func TestRegistry_Rename(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Bind("u1", "alice", &fakePeer{}))
	require.NoError(t, r.Bind("u2", "bob", &fakePeer{}))

	old, err := r.Rename("u1", "carol")
	require.NoError(t, err)
	assert.Equal(t, "alice", old)

	_, err = r.Rename("u2", "carol")
	require.True(t, errors.Is(err, common.ErrorNameTaken))

	_, err = r.Rename("ghost", "dave")
	require.True(t, errors.Is(err, common.ErrorNotRegistered))
}

func TestRegistry_RemoveByPeer(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{addr: "10.0.0.1:1"}
	require.NoError(t, r.Bind("u1", "alice", p))

	e, ok := r.RemoveByPeer(p)
	require.True(t, ok)
	assert.Equal(t, "u1", e.UserID)
	require.Empty(t, r.Snapshot())

	_, ok = r.RemoveByPeer(p)
	assert.False(t, ok)
}
