// Package session provides per-connection session state, the transport
// capability a session writes through, and the registry of live sessions.
package session

import (
	"context"
	"net"
	"time"

	"github.com/cory-johannsen/nightraid/internal/storage"
)

// Transport is the write/close capability a session holds into its connection.
// Implementations must be safe for a concurrent Close while a Send is in flight.
type Transport interface {
	// SendText writes one text reply to the client.
	SendText(ctx context.Context, text string) error
	// SendBinary writes one binary frame. The gateway protocol never calls it
	// for replies; transports without binary framing return an error.
	SendBinary(ctx context.Context, data []byte) error
	// Close closes the connection with an optional human-readable reason.
	Close(reason string) error
	// RemoteAddr returns the peer address as reported by the acceptor.
	RemoteAddr() string
}

// Session is the server-side state of one live connection.
//
// A Session is owned by the goroutine serving its connection; its fields are
// not guarded by a lock and must not be touched from other goroutines, with the
// exception of Close through the Registry at shutdown.
type Session struct {
	id          string
	transport   Transport
	remoteAddr  string
	connectedAt time.Time

	user    *storage.User
	closing bool
}

// New creates an unauthenticated Session bound to transport.
//
// Precondition: id must be non-empty; transport must be non-nil.
// Postcondition: Returns a Session with no user bound.
func New(id string, transport Transport, now time.Time) *Session {
	return &Session{
		id:          id,
		transport:   transport,
		remoteAddr:  transport.RemoteAddr(),
		connectedAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Transport returns the session's connection handle.
func (s *Session) Transport() Transport { return s.transport }

// RemoteAddr returns the peer address captured at connect time.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// RemoteHost returns the host part of RemoteAddr, or RemoteAddr unchanged when
// it carries no port.
func (s *Session) RemoteHost() string {
	host, _, err := net.SplitHostPort(s.remoteAddr)
	if err != nil {
		return s.remoteAddr
	}
	return host
}

// ConnectedAt returns when the session was created.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// User returns the authenticated user, or nil before a successful login.
func (s *Session) User() *storage.User { return s.user }

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool { return s.user != nil }

// Bind binds the session to u, replacing any previous binding.
//
// Precondition: u must be non-nil.
// Postcondition: User() returns a copy of u.
func (s *Session) Bind(u *storage.User) {
	bound := *u
	s.user = &bound
}

// Closing reports whether the session has begun shutting down.
func (s *Session) Closing() bool { return s.closing }

// MarkClosing flags the session as shutting down.
//
// Postcondition: Returns true only on the first call.
func (s *Session) MarkClosing() bool {
	if s.closing {
		return false
	}
	s.closing = true
	return true
}
