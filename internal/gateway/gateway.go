// Package gateway drives the lifecycle of client connections: it opens a
// session on connect, parses and dispatches each inbound line, writes replies
// and rendered errors, and removes the session on disconnect.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/nightraid/internal/command"
	"github.com/cory-johannsen/nightraid/internal/dispatch"
	"github.com/cory-johannsen/nightraid/internal/observability"
	"github.com/cory-johannsen/nightraid/internal/session"
	"github.com/cory-johannsen/nightraid/internal/texterr"
)

// ErrSessionClosed is returned by OnText once the session has ended through
// an exit command. Callers stop reading and close the connection.
var ErrSessionClosed = errors.New("session closed")

// Disconnect reasons recorded in logs.
const (
	ReasonClientQuit   = "client quit"
	ReasonClientClosed = "client closed connection"
	ReasonReadFailed   = "read failed"
	ReasonWriteFailed  = "write failed"
	ReasonShutdown     = "server shutdown"
)

// Dispatcher executes parsed commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, cmd command.Command) (dispatch.Result, error)
}

// Gateway connects transports to the session registry, parser and dispatcher.
// It holds no per-connection state; one Gateway serves all connections.
type Gateway struct {
	registry   *session.Registry
	grammar    *command.Grammar
	dispatcher Dispatcher
	texts      Texts
	logger     *zap.Logger
	recorder   observability.Recorder
	now        func() time.Time
}

// New creates a Gateway.
//
// Precondition: all arguments must be non-nil.
func New(
	registry *session.Registry,
	grammar *command.Grammar,
	dispatcher Dispatcher,
	texts Texts,
	logger *zap.Logger,
	recorder observability.Recorder,
) *Gateway {
	return &Gateway{
		registry:   registry,
		grammar:    grammar,
		dispatcher: dispatcher,
		texts:      texts,
		logger:     logger,
		recorder:   recorder,
		now:        time.Now,
	}
}

// Registry returns the registry of open sessions.
func (g *Gateway) Registry() *session.Registry { return g.registry }

// Texts returns the message catalog.
func (g *Gateway) Texts() Texts { return g.texts }

// OnConnect registers a new unauthenticated session for transport and sends
// the welcome banner.
//
// Postcondition: On success the session is registered. On error nothing is
// registered and the caller must close the transport.
func (g *Gateway) OnConnect(ctx context.Context, transport session.Transport) (*session.Session, error) {
	sess, err := g.registry.Open(transport)
	if err != nil {
		g.logger.Error("opening session",
			zap.String("remote_addr", transport.RemoteAddr()),
			zap.Error(err),
		)
		return nil, texterr.Internal(err)
	}
	g.recorder.SessionOpened()

	g.logger.Info("client connected",
		zap.String("session_id", sess.ID()),
		zap.String("remote_addr", sess.RemoteAddr()),
		zap.Int("open_sessions", g.registry.Len()),
	)

	if err := transport.SendText(ctx, g.texts.Welcome); err != nil {
		g.OnDisconnect(sess, ReasonWriteFailed)
		return nil, texterr.Transport(err).WithContext("stage", "welcome")
	}
	return sess, nil
}

// OnText handles one inbound text frame.
//
// Parse and dispatch failures are rendered to the client and never end the
// session.
//
// Postcondition: Returns nil when the session remains usable, ErrSessionClosed
// after an exit or when the session is already closing, or a transport
// *texterr.Error when a write failed.
func (g *Gateway) OnText(ctx context.Context, sess *session.Session, raw string) error {
	if sess.Closing() {
		return ErrSessionClosed
	}

	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}

	cmd, err := g.grammar.Parse(line)
	if err != nil {
		return g.reportError(ctx, sess, err)
	}

	res, err := g.dispatcher.Dispatch(ctx, sess, cmd)
	if err != nil {
		return g.reportError(ctx, sess, err)
	}

	if res.Reply != "" {
		if err := g.send(ctx, sess, res.Reply); err != nil {
			return err
		}
	}
	if res.Close || sess.Closing() {
		return ErrSessionClosed
	}
	return nil
}

// OnBinary rejects a binary frame. The session stays open.
//
// Postcondition: Returns nil, or a transport *texterr.Error when the rejection
// could not be written.
func (g *Gateway) OnBinary(ctx context.Context, sess *session.Session, data []byte) error {
	if sess.Closing() {
		return ErrSessionClosed
	}
	return g.reportError(ctx, sess, texterr.Protocol(g.texts.BinaryRejected).
		WithContext("bytes", len(data)))
}

// OnDisconnect removes the session from the registry. Repeated calls for the
// same session are no-ops.
func (g *Gateway) OnDisconnect(sess *session.Session, reason string) {
	if !g.registry.Remove(sess.ID()) {
		return
	}
	sess.MarkClosing()
	g.recorder.SessionClosed()

	fields := []zap.Field{
		zap.String("session_id", sess.ID()),
		zap.String("remote_addr", sess.RemoteAddr()),
		zap.String("reason", reason),
		zap.Duration("duration", g.now().Sub(sess.ConnectedAt())),
	}
	if u := sess.User(); u != nil {
		fields = append(fields, zap.String("username", u.Username))
	}
	g.logger.Info("client disconnected", fields...)
}

// reportError logs err with its internal detail and writes its rendering.
func (g *Gateway) reportError(ctx context.Context, sess *session.Session, err error) error {
	te := texterr.From(err)
	g.recorder.ErrorRendered(te.Kind().String())

	level := zapcore.DebugLevel
	switch te.Kind() {
	case texterr.KindStore, texterr.KindInternal:
		level = zapcore.ErrorLevel
	case texterr.KindAuth, texterr.KindProtocol:
		level = zapcore.InfoLevel
	}
	if ce := g.logger.Check(level, "command failed"); ce != nil {
		fields := []zap.Field{
			zap.String("session_id", sess.ID()),
			zap.String("remote_addr", sess.RemoteAddr()),
			zap.Stringer("kind", te.Kind()),
			zap.String("public", te.PublicMessage()),
		}
		if cause := te.Cause(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		if c := te.Context(); len(c) > 0 {
			fields = append(fields, zap.Any("context", c))
		}
		ce.Write(fields...)
	}

	return g.send(ctx, sess, te.Render())
}

// send writes text to the session's transport. A failed write is terminal.
func (g *Gateway) send(ctx context.Context, sess *session.Session, text string) error {
	if err := sess.Transport().SendText(ctx, text); err != nil {
		sess.MarkClosing()
		g.logger.Debug("write failed",
			zap.String("session_id", sess.ID()),
			zap.Error(err),
		)
		return texterr.Transport(err)
	}
	return nil
}
