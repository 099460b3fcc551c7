package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/cory-johannsen/nightraid/internal/gateway"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// ErrIdleTimeout is returned by ReadFrame when no frame arrived within the
// configured read idle timeout.
var ErrIdleTimeout = errors.New("websocket: read idle timeout")

type readResult struct {
	frame gateway.Frame
	err   error
}

// Conn adapts a WebSocket connection to gateway.Conn: one text message per
// command and one text message per reply.
//
// A dedicated goroutine reads from the socket so that cancelling a ReadFrame
// leaves the connection open for a final write.
type Conn struct {
	ws           *ws.Conn
	remoteAddr   string
	writeTimeout time.Duration
	idleTimeout  time.Duration

	frames   chan readResult
	lifetime context.Context
	stop     context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ gateway.Conn = (*Conn)(nil)

// NewConn wraps an accepted WebSocket connection and starts its reader.
//
// Precondition: c must be an open connection.
// Postcondition: The caller must call Close to release the reader goroutine.
func NewConn(c *ws.Conn, remoteAddr string, writeTimeout, idleTimeout time.Duration) *Conn {
	lifetime, stop := context.WithCancel(context.Background())
	conn := &Conn{
		ws:           c,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
		idleTimeout:  idleTimeout,
		frames:       make(chan readResult),
		lifetime:     lifetime,
		stop:         stop,
	}
	go conn.readLoop()
	return conn
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		ctx, cancel := c.lifetime, context.CancelFunc(func() {})
		if c.idleTimeout > 0 {
			ctx, cancel = context.WithTimeout(c.lifetime, c.idleTimeout)
		}
		typ, data, err := c.ws.Read(ctx)
		cancel()

		res := readResult{err: classifyReadErr(err, c.lifetime)}
		if err == nil {
			res.frame = gateway.Frame{Kind: gateway.FrameText, Data: data}
			if typ == ws.MessageBinary {
				res.frame.Kind = gateway.FrameBinary
			}
		}

		select {
		case c.frames <- res:
		case <-c.lifetime.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// classifyReadErr maps orderly closes to io.EOF.
func classifyReadErr(err error, lifetime context.Context) error {
	switch {
	case err == nil:
		return nil
	case ws.CloseStatus(err) != -1:
		return io.EOF
	case lifetime.Err() != nil, errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, context.DeadlineExceeded):
		return ErrIdleTimeout
	default:
		return err
	}
}

// ReadFrame returns the next inbound message.
//
// Postcondition: Returns a frame, io.EOF after the connection closed, ctx.Err()
// when ctx is done, or another read error.
func (c *Conn) ReadFrame(ctx context.Context) (gateway.Frame, error) {
	select {
	case res, ok := <-c.frames:
		if !ok {
			return gateway.Frame{}, io.EOF
		}
		return res.frame, res.err
	case <-ctx.Done():
		return gateway.Frame{}, ctx.Err()
	}
}

// SendText writes text as one text message.
func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.write(ctx, ws.MessageText, []byte(text))
}

// SendBinary writes data as one binary message.
func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, ws.MessageBinary, data)
}

func (c *Conn) write(ctx context.Context, typ ws.MessageType, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close performs the closing handshake with reason, using status going-away
// for server shutdown and normal closure otherwise. Repeated calls return the
// first result.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		status := ws.StatusNormalClosure
		if reason == gateway.ReasonShutdown {
			status = ws.StatusGoingAway
		}
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		c.closeErr = c.ws.Close(status, reason)
		c.stop()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address of the upgraded HTTP request.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }
