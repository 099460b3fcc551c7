package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/nightraid/internal/storage"
)

type fakeTransport struct {
	addr   string
	closed atomic.Int32
	reason atomic.Value
}

func (f *fakeTransport) SendText(context.Context, string) error   { return nil }
func (f *fakeTransport) SendBinary(context.Context, []byte) error { return nil }
func (f *fakeTransport) RemoteAddr() string                       { return f.addr }
func (f *fakeTransport) Close(reason string) error {
	f.closed.Add(1)
	f.reason.Store(reason)
	return nil
}

func TestNewID_IsULIDAndIncreasing(t *testing.T) {
	now := time.Now()
	a, err := NewID(now)
	require.NoError(t, err)
	b, err := NewID(now)
	require.NoError(t, err)

	assert.Len(t, a, 26)
	assert.Len(t, b, 26)
	assert.Less(t, a, b)
}

func TestRegistry_OpenRegistersUnauthenticatedSession(t *testing.T) {
	r := NewRegistry()
	tr := &fakeTransport{addr: "203.0.113.7:51234"}

	sess, err := r.Open(tr)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID())
	assert.Nil(t, sess.User())
	assert.False(t, sess.Authenticated())
	assert.False(t, sess.Closing())
	assert.Equal(t, "203.0.113.7:51234", sess.RemoteAddr())
	assert.Equal(t, "203.0.113.7", sess.RemoteHost())
	assert.Same(t, tr, sess.Transport())

	got, ok := r.Lookup(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SamePortDifferentSessions(t *testing.T) {
	r := NewRegistry()
	a, err := r.Open(&fakeTransport{addr: "10.0.0.1:4000"})
	require.NoError(t, err)
	b, err := r.Open(&fakeTransport{addr: "10.0.0.2:4000"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RetriesOnCollision(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var i int
	r := NewRegistryWithIDs(func(time.Time) (string, error) {
		id := ids[i]
		i++
		return id, nil
	}, time.Now)

	first, err := r.Open(&fakeTransport{})
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID())

	second, err := r.Open(&fakeTransport{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID())
}

func TestRegistry_ExhaustedIDs(t *testing.T) {
	r := NewRegistryWithIDs(func(time.Time) (string, error) {
		return "", errors.New("entropy unavailable")
	}, time.Now)

	_, err := r.Open(&fakeTransport{})
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a, err := r.Open(&fakeTransport{})
	require.NoError(t, err)
	b, err := r.Open(&fakeTransport{})
	require.NoError(t, err)

	assert.True(t, r.Remove(a.ID()))
	assert.False(t, r.Remove(a.ID()))
	assert.False(t, r.Remove("never-existed"))

	_, ok := r.Lookup(b.ID())
	assert.True(t, ok, "removing one session must not affect another")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	t1, t2 := &fakeTransport{}, &fakeTransport{}
	_, err := r.Open(t1)
	require.NoError(t, err)
	_, err = r.Open(t2)
	require.NoError(t, err)

	n := r.CloseAll("server shutting down")
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(1), t1.closed.Load())
	assert.Equal(t, "server shutting down", t2.reason.Load())
}

func TestSession_BindCopiesUser(t *testing.T) {
	s := New("id", &fakeTransport{}, time.Now())
	u := &storage.User{ID: 7, Username: "raider"}
	s.Bind(u)
	u.Username = "mutated"

	require.NotNil(t, s.User())
	assert.Equal(t, "raider", s.User().Username)
	assert.True(t, s.Authenticated())

	s.Bind(&storage.User{ID: 8, Username: "other"})
	assert.Equal(t, int64(8), s.User().ID)
}

func TestSession_MarkClosingOnce(t *testing.T) {
	s := New("id", &fakeTransport{}, time.Now())
	assert.True(t, s.MarkClosing())
	assert.False(t, s.MarkClosing())
	assert.True(t, s.Closing())
}

func TestSession_RemoteHostWithoutPort(t *testing.T) {
	s := New("id", &fakeTransport{addr: "pipe"}, time.Now())
	assert.Equal(t, "pipe", s.RemoteHost())
}

func TestRegistry_ConcurrentOpenRemove(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Open(&fakeTransport{addr: fmt.Sprintf("127.0.0.1:%d", 1000+i%3)})
			if err == nil {
				ids <- s.ID()
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 200, r.Len())

	for id := range seen {
		r.Remove(id)
	}
	assert.Equal(t, 0, r.Len())
}

// Property: after any sequence of opens and removes, Len equals the number of
// ids opened and not yet removed.
func TestPropertyRegistryLenTracksOpenSessions(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		live := map[string]bool{}
		ops := rapid.SliceOfN(rapid.Bool(), 1, 50).Draw(t, "ops")
		for _, open := range ops {
			if open || len(live) == 0 {
				s, err := r.Open(&fakeTransport{})
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				live[s.ID()] = true
				continue
			}
			for id := range live {
				r.Remove(id)
				delete(live, id)
				break
			}
		}
		if r.Len() != len(live) {
			t.Fatalf("Len() = %d, want %d", r.Len(), len(live))
		}
	})
}
