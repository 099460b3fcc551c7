// Package storage defines the persisted user model and the errors shared by
// the credential store implementations.
package storage

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when a lookup yields no user.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when creating a user whose username is taken.
var ErrUserExists = errors.New("user already exists")

// ErrTokenCollision is returned when a new token digest is already bound to
// another user. Callers generate a fresh token and retry.
var ErrTokenCollision = errors.New("token digest already in use")

// User is a registered player.
//
// The cleartext login token is never stored; TokenDigest holds its keyed digest.
type User struct {
	ID             int64
	Username       string
	TokenDigest    string
	Balance        int64
	MachineAddress string
	LastLogin      time.Time
	CreatedAt      time.Time
}
