// Package stream pumps bytes between a [net.Conn] and a protocol
// session. It implements the transport contract the sessions plug
// into: outbound bytes are queued and written by a dedicated writer
// goroutine, inbound bytes are read into the session's receive buffer
// and fed to the session on a single goroutine, so session hooks are
// strictly serialized per connection.
package stream

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// Session is the inbound half of a protocol session: the pump feeds
// it received bytes and tells it when the connection goes away.
type Session interface {
	Feed(data *buffer.Linear, eof bool)
}

// ClosedNotifier is implemented by sessions that want to hear about
// transport closure, e.g. to deliver a WebSocket close notification
// when no CLOSE frame ever arrived.
type ClosedNotifier interface {
	TransportClosed(errno int)
}

// Conn owns one TCP connection and implements the session transport
// contract ([Conn.Send] and [Conn.ShutDown]).
type Conn struct {
	id     string
	nc     net.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	sendable bool
	pending  [][]byte
	kick     chan struct{}
	shutdown bool
}

// New wraps an established connection. The returned Conn is inert
// until [Conn.Run] is called with the session to drive.
func New(nc net.Conn, logger zerolog.Logger) *Conn {
	id := shortuuid.New()
	return &Conn{
		id:       id,
		nc:       nc,
		logger:   logger.With().Str("conn_id", id).Str("remote_addr", nc.RemoteAddr().String()).Logger(),
		sendable: true,
		kick:     make(chan struct{}, 1),
	}
}

// ID returns the connection's short UUID, used in log lines.
func (c *Conn) ID() string { return c.id }

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() zerolog.Logger { return c.logger }

// Send queues data for transmission. It never blocks on socket
// writability.
func (c *Conn) Send(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendable {
		return false
	}
	c.pending = append(c.pending, cp)

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return true
}

// ShutDown requests that the connection be closed once queued bytes
// have drained. It is idempotent.
func (c *Conn) ShutDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return true
	}
	c.shutdown = true

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return true
}

// Run pumps the connection until it closes: a writer goroutine drains
// the send queue, while the calling goroutine reads inbound bytes and
// feeds them to the session. It returns once the peer is gone and the
// session has been notified.
func (c *Conn) Run(sess Session) {
	go c.writeLoop()

	var rbuf buffer.Linear
	chunk := make([]byte, 16384)
	errno := 0

	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			rbuf.Put(chunk[:n])
			sess.Feed(&rbuf, false)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				errno = errnoOf(err)
				c.logger.Debug().Err(err).Msg("connection read error")
			}
			break
		}
	}

	sess.Feed(&rbuf, true)
	if n, ok := sess.(ClosedNotifier); ok {
		n.TransportClosed(errno)
	}

	c.teardown()
}

// teardown marks the connection unusable and closes the socket after
// the writer drains.
func (c *Conn) teardown() {
	c.mu.Lock()
	c.sendable = false
	c.shutdown = true
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// writeLoop drains the send queue in issue order, then closes the
// socket once shutdown has been requested and nothing is pending.
func (c *Conn) writeLoop() {
	for range c.kick {
		for {
			c.mu.Lock()
			if len(c.pending) == 0 {
				done := c.shutdown
				if done {
					c.sendable = false
				}
				c.mu.Unlock()
				if done {
					_ = c.nc.Close()
					return
				}
				break
			}
			data := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			if _, err := c.nc.Write(data); err != nil {
				c.logger.Debug().Err(err).Msg("connection write error")
				c.mu.Lock()
				c.sendable = false
				c.pending = nil
				c.mu.Unlock()
				_ = c.nc.Close()
				return
			}
		}
	}
}

// errnoOf extracts the system error number from a network error, or
// returns -1 when there is none.
func errnoOf(err error) int {
	var se syscall.Errno
	if errors.As(err, &se) {
		return int(se)
	}
	return -1
}
