package cluster

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is a line-oriented protocol connection. Reads are expected from a
// single goroutine; Send may be called concurrently.
type Conn struct {
	raw    net.Conn
	r      *bufio.Reader
	wmu    sync.Mutex
	id     string
	logger zerolog.Logger
}

// NewConn wraps a network connection. Each Conn gets a random ID used to key
// per-connection state and to correlate log lines.
func NewConn(raw net.Conn, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		raw:    raw,
		r:      bufio.NewReader(raw),
		id:     id,
		logger: logger.With().Str("conn", id[:8]).Str("remote", raw.RemoteAddr().String()).Logger(),
	}
}

// Dial connects to addr within timeout and wraps the connection.
func Dial(addr string, timeout time.Duration, logger zerolog.Logger) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(raw, logger), nil
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// ReadMessage blocks for the next protocol line. Empty lines are returned as
// ErrMalformedRequest so the caller can log and carry on.
func (c *Conn) ReadMessage() (Message, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if line == "" || err != io.EOF {
			return Message{}, err
		}
	}
	line = strings.TrimRight(line, "\r\n")
	c.logger.Debug().Str("msg", line).Msg("received")
	return ParseMessage(line)
}

// ReadMessageTimeout is ReadMessage bounded by a read deadline.
func (c *Conn) ReadMessageTimeout(timeout time.Duration) (Message, error) {
	if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Message{}, err
	}
	defer c.raw.SetReadDeadline(time.Time{})
	return c.ReadMessage()
}

// Send writes one protocol line.
func (c *Conn) Send(command string, args ...string) error {
	return c.SendMessage(NewMessage(command, args...))
}

// SendMessage writes m as one protocol line.
func (c *Conn) SendMessage(m Message) error {
	line := m.String()
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.raw, line+"\n"); err != nil {
		return fmt.Errorf("send %s: %w", m.Command, err)
	}
	c.logger.Debug().Str("msg", line).Msg("sent")
	return nil
}

// ReadPayload reads exactly size raw bytes following a protocol line. A
// peer that closes early yields io.ErrUnexpectedEOF.
func (c *Conn) ReadPayload(size int64, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer c.raw.SetReadDeadline(time.Time{})
	}
	// size comes from the peer, so the buffer grows with the bytes that
	// actually arrive instead of being allocated up front.
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(c.r, size))
	if err != nil {
		return nil, fmt.Errorf("read %d byte payload: %w", size, err)
	}
	if n < size {
		return nil, fmt.Errorf("read %d byte payload: got %d: %w", size, n, io.ErrUnexpectedEOF)
	}
	return buf.Bytes(), nil
}

// ReadAll reads raw bytes until the peer closes the connection.
func (c *Conn) ReadAll(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(c.r)
}

// WritePayload writes raw bytes.
func (c *Conn) WritePayload(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.raw.Write(data); err != nil {
		return fmt.Errorf("write %d byte payload: %w", len(data), err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}
