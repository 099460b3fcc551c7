package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// maxIDAttempts bounds id allocation retries when the generator collides with
// a live session.
const maxIDAttempts = 8

// ErrIDExhausted is returned by Open when no unique id could be allocated.
var ErrIDExhausted = errors.New("could not allocate a unique session id")

// IDFunc generates a candidate session id.
type IDFunc func(now time.Time) (string, error)

// Registry tracks all open sessions by id.
// All methods are safe for concurrent use; the lock guards only the map,
// never the sessions themselves.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newID    IDFunc
	now      func() time.Time
}

// NewRegistry creates an empty Registry that allocates ULID session ids.
func NewRegistry() *Registry {
	return NewRegistryWithIDs(NewID, time.Now)
}

// NewRegistryWithIDs creates an empty Registry with a custom id generator and clock.
//
// Precondition: newID and now must be non-nil.
func NewRegistryWithIDs(newID IDFunc, now func() time.Time) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    newID,
		now:      now,
	}
}

// Open allocates an id unique among open sessions, creates an unauthenticated
// Session bound to transport, and registers it.
//
// Precondition: transport must be non-nil.
// Postcondition: Returns the registered Session, or an error if no unique id
// could be allocated. Nothing is registered on error.
func (r *Registry) Open(transport Transport) (*Session, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.newID(now)
		if err != nil {
			lastErr = err
			continue
		}
		if id == "" {
			lastErr = errors.New("empty session id")
			continue
		}
		if _, taken := r.sessions[id]; taken {
			lastErr = fmt.Errorf("session id %q already in use", id)
			continue
		}
		sess := New(id, transport, now)
		r.sessions[id] = sess
		return sess, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrIDExhausted, maxIDAttempts, lastErr)
}

// Remove unregisters the session with the given id.
//
// Postcondition: The id is no longer registered. Returns true only if this
// call removed it; repeated calls are no-ops.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Lookup returns the open session with the given id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the ids of all open sessions in no particular order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes the transport of every open session with the given reason.
// Sessions are removed by their own connection goroutines as they observe the
// close.
//
// Postcondition: Returns the number of transports a close was issued to.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	transports := make([]Transport, 0, len(r.sessions))
	for _, s := range r.sessions {
		transports = append(transports, s.transport)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close(reason)
	}
	return len(transports)
}
