package telnet

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cory-johannsen/nightraid/internal/gateway"
)

// Telnet IAC (Interpret As Command) constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	SE   byte = 240 // Sub-negotiation End
	NOP  byte = 241
	GA   byte = 249 // Go Ahead

	// Telnet options
	OptSuppressGoAhead byte = 3
)

// MaxLineBytes bounds a single input line.
const MaxLineBytes = 4096

var (
	// ErrBinaryUnsupported is returned by SendBinary.
	ErrBinaryUnsupported = errors.New("telnet: binary frames are not supported")
	// ErrLineTooLong is returned by ReadFrame for a line over MaxLineBytes.
	ErrLineTooLong = errors.New("telnet: line too long")
)

// Conn wraps a TCP connection with Telnet protocol handling.
// It filters IAC sequences from input, reads one line per frame, and writes
// each reply terminated by CRLF. Writes and Close are safe for concurrent use.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ gateway.Conn = (*Conn)(nil)

// NewConn wraps a raw TCP connection with Telnet protocol handling.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, MaxLineBytes),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Negotiate asks the client to suppress go-ahead.
//
// Postcondition: Negotiation bytes are written to the connection.
func (c *Conn) Negotiate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setWriteDeadline(context.Background())
	_, err := c.raw.Write([]byte{IAC, WILL, OptSuppressGoAhead})
	return err
}

// ReadFrame reads the next input line. Lines that are not valid UTF-8 are
// returned as binary frames.
//
// Postcondition: Returns the next frame, io.EOF when the peer or Close ended
// the connection, ctx.Err() when ctx was cancelled, or another read error.
func (c *Conn) ReadFrame(ctx context.Context) (gateway.Frame, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.raw.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetReadDeadline(time.Now())
	})
	defer stop()

	line, err := c.readLine()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return gateway.Frame{}, ctxErr
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return gateway.Frame{}, io.EOF
		}
		return gateway.Frame{}, err
	}

	kind := gateway.FrameText
	if !utf8.Valid(line) {
		kind = gateway.FrameBinary
	}
	return gateway.Frame{Kind: kind, Data: line}, nil
}

// readLine reads a single line of input, filtering Telnet IAC sequences.
// The returned line does not include the trailing \r\n.
func (c *Conn) readLine() ([]byte, error) {
	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, err
		}

		if b == IAC {
			literal, err := c.handleIAC()
			if err != nil {
				return nil, err
			}
			if literal {
				line.WriteByte(IAC)
			}
			continue
		}

		if b == '\n' {
			break
		}
		if b == '\r' {
			// Consume the \n of a CRLF pair.
			next, err := c.reader.Peek(1)
			if err == nil && len(next) > 0 && next[0] == '\n' {
				_, _ = c.reader.ReadByte()
			}
			break
		}

		// Filter control characters except tab
		if b < 32 && b != '\t' {
			continue
		}

		if line.Len() >= MaxLineBytes {
			return nil, ErrLineTooLong
		}
		line.WriteByte(b)
	}

	return line.Bytes(), nil
}

// handleIAC processes a Telnet IAC sequence after the initial IAC byte has
// been read. It reports true for an escaped literal 0xFF.
func (c *Conn) handleIAC() (bool, error) {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return false, err
	}

	switch cmd {
	case WILL, WONT, DO, DONT:
		_, err := c.reader.ReadByte()
		return false, err
	case SB:
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return false, err
			}
			if b != IAC {
				continue
			}
			next, err := c.reader.ReadByte()
			if err != nil {
				return false, err
			}
			if next == SE {
				return false, nil
			}
		}
	case IAC:
		return true, nil
	default:
		// NOP, GA and the rest carry no payload.
		return false, nil
	}
}

// SendText writes text with every line ending normalized to CRLF. A reply
// that does not end in a newline gets one.
//
// Postcondition: The text is written or a non-nil error is returned.
func (c *Conn) SendText(ctx context.Context, text string) error {
	out := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "\r\n")
	if !strings.HasSuffix(out, "\r\n") {
		out += "\r\n"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setWriteDeadline(ctx)
	_, err := io.WriteString(c.raw, out)
	return err
}

// SendBinary always fails; Telnet carries text only.
func (c *Conn) SendBinary(context.Context, []byte) error {
	return ErrBinaryUnsupported
}

// Close closes the underlying TCP connection. Telnet has no close frame, so
// reason is not transmitted. Repeated calls return the first result.
func (c *Conn) Close(string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// setWriteDeadline applies the earlier of ctx's deadline and the write timeout.
// Callers hold c.mu.
func (c *Conn) setWriteDeadline(ctx context.Context) {
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.raw.SetWriteDeadline(deadline)
}
