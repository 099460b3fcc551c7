// Package memory provides an in-process credential store for the development
// server and tests. Data does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cory-johannsen/nightraid/internal/credential"
	"github.com/cory-johannsen/nightraid/internal/storage"
)

// UserStore keeps users in maps keyed by id, username, and token digest.
// All methods are safe for concurrent use.
type UserStore struct {
	mu       sync.RWMutex
	digest   *credential.Digester
	now      func() time.Time
	nextID   int64
	byID     map[int64]storage.User
	byName   map[string]int64
	byDigest map[string]int64
}

// NewUserStore creates an empty UserStore.
//
// Precondition: digest must be non-nil.
func NewUserStore(digest *credential.Digester) *UserStore {
	return &UserStore{
		digest:   digest,
		now:      time.Now,
		byID:     make(map[int64]storage.User),
		byName:   make(map[string]int64),
		byDigest: make(map[string]int64),
	}
}

// FindUserByToken returns the user bound to token, or storage.ErrUserNotFound.
func (s *UserStore) FindUserByToken(ctx context.Context, token string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	d := s.digest.Digest(token)

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDigest[d]
	if !ok {
		return storage.User{}, storage.ErrUserNotFound
	}
	return s.byID[id], nil
}

// GetByUsername returns the named user, or storage.ErrUserNotFound.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return storage.User{}, storage.ErrUserNotFound
	}
	return s.byID[id], nil
}

// UpdateUser persists u.LastLogin and u.MachineAddress.
func (s *UserStore) UpdateUser(ctx context.Context, u storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[u.ID]
	if !ok {
		return storage.ErrUserNotFound
	}
	cur.LastLogin = u.LastLogin
	cur.MachineAddress = u.MachineAddress
	s.byID[u.ID] = cur
	return nil
}

// CreateUser stores a new user with zero balance bound to the digest of token.
func (s *UserStore) CreateUser(ctx context.Context, username, token string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	d := s.digest.Digest(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[username]; taken {
		return storage.User{}, storage.ErrUserExists
	}
	if _, taken := s.byDigest[d]; taken {
		return storage.User{}, storage.ErrTokenCollision
	}

	s.nextID++
	u := storage.User{
		ID:          s.nextID,
		Username:    username,
		TokenDigest: d,
		CreatedAt:   s.now().UTC(),
	}
	s.byID[u.ID] = u
	s.byName[username] = u.ID
	s.byDigest[d] = u.ID
	return u, nil
}

// RotateToken rebinds the named user to the digest of token.
func (s *UserStore) RotateToken(ctx context.Context, username, token string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	d := s.digest.Digest(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return storage.User{}, storage.ErrUserNotFound
	}
	if owner, taken := s.byDigest[d]; taken && owner != id {
		return storage.User{}, storage.ErrTokenCollision
	}

	u := s.byID[id]
	delete(s.byDigest, u.TokenDigest)
	u.TokenDigest = d
	s.byID[id] = u
	s.byDigest[d] = id
	return u, nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
