package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/session"
)

// shutdownNoticeTimeout bounds the write of the shutdown notice.
const shutdownNoticeTimeout = time.Second

// FrameKind distinguishes inbound frame types.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one inbound client message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Conn is a client connection the gateway can serve.
type Conn interface {
	session.Transport
	// ReadFrame blocks for the next inbound frame. It returns io.EOF once the
	// peer closed the connection cleanly, and returns promptly with an error
	// when ctx is done.
	ReadFrame(ctx context.Context) (Frame, error)
}

// Serve runs the session for conn until the client exits, the connection
// fails, or ctx is cancelled. On cancellation the client receives the
// shutdown notice before the connection is closed.
//
// Postcondition: The session is unregistered and conn is closed on return.
// Returns nil for an orderly end, or the read/write failure otherwise.
func (g *Gateway) Serve(ctx context.Context, conn Conn) error {
	sess, err := g.OnConnect(ctx, conn)
	if err != nil {
		_ = conn.Close(ReasonWriteFailed)
		return err
	}

	reason := ReasonClientClosed
	defer func() {
		g.OnDisconnect(sess, reason)
		_ = conn.Close(reason)
	}()

	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				reason = ReasonShutdown
				g.sendShutdownNotice(conn)
				return nil
			case errors.Is(err, io.EOF):
				return nil
			default:
				reason = ReasonReadFailed
				g.logger.Debug("read failed",
					zap.String("session_id", sess.ID()),
					zap.Error(err),
				)
				return err
			}
		}

		switch frame.Kind {
		case FrameBinary:
			err = g.OnBinary(ctx, sess, frame.Data)
		default:
			err = g.OnText(ctx, sess, string(frame.Data))
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrSessionClosed):
			reason = ReasonClientQuit
			return nil
		default:
			reason = ReasonWriteFailed
			return err
		}
	}
}

func (g *Gateway) sendShutdownNotice(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownNoticeTimeout)
	defer cancel()
	_ = conn.SendText(ctx, g.texts.Shutdown)
}
