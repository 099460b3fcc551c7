// Package credential generates login tokens and usernames and computes the
// token digests the credential store persists in place of cleartext tokens.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Token length bounds, in random bytes before hex encoding.
const (
	MinTokenBytes     = 16
	MaxTokenBytes     = 64
	DefaultTokenBytes = 24
)

// Pepper length bounds for the digest key. An empty pepper selects the unkeyed digest.
const (
	MinPepperBytes = 16
	MaxPepperBytes = blake2b.Size
)

// Username length bounds.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 32
)

// ErrInvalidPepper is returned by NewDigester for a pepper of unsupported length.
var ErrInvalidPepper = errors.New("invalid token pepper length")

// ErrInvalidUsername is returned by ValidateUsername.
var ErrInvalidUsername = errors.New("invalid username")

var (
	tokenPattern    = regexp.MustCompile(`^[0-9a-f]+$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Digester computes keyed BLAKE2b-256 digests of login tokens.
type Digester struct {
	key []byte
}

// NewDigester creates a Digester keyed with pepper.
//
// Precondition: pepper must be empty or between MinPepperBytes and MaxPepperBytes long.
// Postcondition: Returns a Digester or ErrInvalidPepper.
func NewDigester(pepper string) (*Digester, error) {
	n := len(pepper)
	if n != 0 && (n < MinPepperBytes || n > MaxPepperBytes) {
		return nil, fmt.Errorf("%w: got %d bytes, want 0 or %d-%d", ErrInvalidPepper, n, MinPepperBytes, MaxPepperBytes)
	}
	return &Digester{key: []byte(pepper)}, nil
}

// Digest returns the lowercase hex digest of token.
//
// Postcondition: Returns a 64-character string; equal tokens yield equal digests.
func (d *Digester) Digest(token string) string {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// Key length is validated in NewDigester.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	_, _ = h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// WellFormed reports whether token has the shape of a generated token.
// It is a cheap pre-check; callers must not reveal its result to clients.
func WellFormed(token string) bool {
	n := len(token)
	return n >= 2*MinTokenBytes && n <= 2*MaxTokenBytes && n%2 == 0 && tokenPattern.MatchString(token)
}

// TokenGenerator returns fresh random login tokens.
type TokenGenerator func() (string, error)

// NewTokenGenerator returns a generator of hex tokens carrying n random bytes.
//
// Precondition: n must be between MinTokenBytes and MaxTokenBytes.
func NewTokenGenerator(n int) (TokenGenerator, error) {
	if n < MinTokenBytes || n > MaxTokenBytes {
		return nil, fmt.Errorf("token size must be %d-%d bytes, got %d", MinTokenBytes, MaxTokenBytes, n)
	}
	return func() (string, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		return hex.EncodeToString(buf), nil
	}, nil
}

// GenerateUsername returns a username of the form "player-xxxxxxxx" derived
// from a random UUID.
func GenerateUsername() string {
	id := uuid.New()
	return "player-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// ValidateUsername checks length and character set.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidUsername whose
// message is safe to show to the client.
func ValidateUsername(name string) error {
	if len(name) < MinUsernameLen || len(name) > MaxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidUsername, MinUsernameLen, MaxUsernameLen)
	}
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: username may only contain letters, digits, '_' and '-'", ErrInvalidUsername)
	}
	return nil
}
