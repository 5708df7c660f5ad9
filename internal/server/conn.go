package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/securedrop-lan/securedrop/internal/wire"
)

// Connection wraps one accepted stream with frame I/O. Reads belong to
// the owning handler goroutine; writes are serialized by a mutex so
// other sessions can push frames (for example a port notification to a
// waiting sender) without interleaving bytes.
type Connection struct {
	id   string
	conn net.Conn
	r    *bufio.Reader

	commandTimeout time.Duration
	idleTimeout    time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConnection wraps an established stream. Zero timeouts disable
// the deadlines.
func NewConnection(conn net.Conn, commandTimeout, idleTimeout time.Duration) *Connection {
	return &Connection{
		id:             uuid.NewString(),
		conn:           conn,
		r:              bufio.NewReader(conn),
		commandTimeout: commandTimeout,
		idleTimeout:    idleTimeout,
	}
}

// ID returns the connection's session identifier.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns the peer IP without the port, used for the
// same-network check on transfer requests.
func (c *Connection) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

// ReadFrame reads the next frame. The idle timeout, when configured,
// bounds how long the peer may stay silent.
func (c *Connection) ReadFrame() (wire.Frame, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return wire.Frame{}, err
		}
	}
	return wire.Read(c.r)
}

// WriteFrame writes one frame. Safe for concurrent use.
func (c *Connection) WriteFrame(tag string, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.commandTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.commandTimeout)); err != nil {
			return err
		}
	}
	return wire.Write(c.conn, tag, v)
}

// WriteStatus writes a STAT frame carrying msg.
func (c *Connection) WriteStatus(msg string) error {
	return c.WriteFrame(wire.TagStatus, wire.Status{Message: msg})
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}
