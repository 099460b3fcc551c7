// Package texterr provides the structured error envelope returned by every
// fallible path of the gateway and its client-safe text rendering.
//
// An Error carries three independent pieces of information: an internal cause
// used only for local diagnostics, an optional structured context payload,
// and the public message shown to the client. Only the public message is
// ever rendered onto the wire.
package texterr

import (
	"errors"
	"fmt"
	"strings"
)

// GenericMessage is the public message used when none has been set.
const GenericMessage = "an internal error occurred"

// Prefix is prepended to the public message by Render unless the error is raw.
const Prefix = "error: "

// Kind classifies an Error.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindParse
	KindAuth
	KindValidation
	KindTransport
	KindStore
	KindProtocol
)

// String returns the lowercase kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindStore:
		return "store"
	case KindProtocol:
		return "protocol"
	default:
		return "internal"
	}
}

// Recoverable reports whether errors of this kind leave the session usable.
// Only transport failures are terminal.
func (k Kind) Recoverable() bool {
	return k != KindTransport
}

// exposesMessage reports whether a caller-supplied public message may reach
// the client for this kind. Store, transport and internal failures always
// render the generic message.
func (k Kind) exposesMessage() bool {
	switch k {
	case KindParse, KindAuth, KindValidation, KindProtocol:
		return true
	default:
		return false
	}
}

// Error is the gateway's error envelope.
//
// The zero value is a valid internal error with the generic public message.
type Error struct {
	kind    Kind
	cause   error
	context map[string]any
	public  string
	raw     bool
}

// New returns an Error of the given kind with an optional public message.
//
// Postcondition: Returns a non-nil *Error.
func New(kind Kind, public string) *Error {
	return &Error{kind: kind, public: public}
}

// Parse returns a grammar or tokenization failure.
func Parse(public string) *Error { return New(KindParse, public) }

// Auth returns an authentication failure.
func Auth(public string) *Error { return New(KindAuth, public) }

// Validation returns an input validation failure.
func Validation(public string) *Error { return New(KindValidation, public) }

// Protocol returns a failure for a frame the protocol does not carry.
func Protocol(public string) *Error { return New(KindProtocol, public) }

// Store wraps a persistence failure. The client only ever sees GenericMessage.
func Store(cause error) *Error { return New(KindStore, "").WithCause(cause) }

// Transport wraps a write or close failure on the connection.
func Transport(cause error) *Error { return New(KindTransport, "").WithCause(cause) }

// Internal wraps an unexpected failure.
func Internal(cause error) *Error { return New(KindInternal, "").WithCause(cause) }

// WithCause returns a copy of e carrying cause as its internal error.
func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.cause = cause
	return c
}

// WithContext returns a copy of e with key=value added to its context payload.
func (e *Error) WithContext(key string, value any) *Error {
	c := e.clone()
	ctx := make(map[string]any, len(e.context)+1)
	for k, v := range e.context {
		ctx[k] = v
	}
	ctx[key] = value
	c.context = ctx
	return c
}

// WithPublicMessage returns a copy of e with the given public message.
func (e *Error) WithPublicMessage(msg string) *Error {
	c := e.clone()
	c.public = msg
	return c
}

// Raw returns a copy of e that renders without the "error: " prefix.
// Use it when the public message is already a self-contained block.
func (e *Error) Raw() *Error {
	c := e.clone()
	c.raw = true
	return c
}

func (e *Error) clone() *Error {
	if e == nil {
		return &Error{}
	}
	c := *e
	return &c
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Cause returns the internal cause, or nil.
func (e *Error) Cause() error { return e.cause }

// Context returns the structured context payload. The map must not be modified.
func (e *Error) Context() map[string]any { return e.context }

// IsRaw reports whether the error renders without the standard prefix.
func (e *Error) IsRaw() bool { return e.raw }

// PublicMessage returns the text that may be shown to the client.
//
// Postcondition: Returns a non-empty string. Kinds that never expose detail
// always return GenericMessage.
func (e *Error) PublicMessage() string {
	if e.public == "" || !e.kind.exposesMessage() {
		return GenericMessage
	}
	return e.public
}

// Render returns the wire form of the error: "error: {public}\n\n", or
// "{public}\n\n" for raw errors. The cause and context never appear.
func (e *Error) Render() string {
	var b strings.Builder
	if !e.raw {
		b.WriteString(Prefix)
	}
	b.WriteString(e.PublicMessage())
	b.WriteString("\n\n")
	return b.String()
}

// Error implements error with the diagnostic form, including the cause.
// It is meant for logs and must not be written to a client.
func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s error: %s", e.kind, e.PublicMessage())
	}
	return fmt.Sprintf("%s error: %s: %v", e.kind, e.PublicMessage(), e.cause)
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error { return e.cause }

// From returns err as an *Error. Errors that are not already envelopes become
// internal errors wrapping err. A nil err returns nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Internal(err)
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.kind
	}
	return KindInternal
}
