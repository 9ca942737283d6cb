package execution

import (
	"net"
	"sync"
)

// conn wraps one accepted TCP connection. Reads happen on its own
// goroutine and are pushed onto the server's shared inbound queue; writes
// are drained from outCh by a second goroutine, so the session never
// blocks the single mutating event loop on socket I/O.
type conn struct {
	id      string
	netConn net.Conn
	outCh   chan []byte
	closing chan struct{}
	closed  chan struct{}

	closeOnce sync.Once
	flushOnce sync.Once
}

func newConn(id string, nc net.Conn) *conn {
	return &conn{
		id:      id,
		netConn: nc,
		outCh:   make(chan []byte, 64),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Enqueue implements competitor.OutboundSink. Called only from the single
// event-loop goroutine.
func (c *conn) Enqueue(frame []byte) {
	select {
	case c.outCh <- frame:
	case <-c.closed:
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.outCh:
			if _, err := c.netConn.Write(frame); err != nil {
				c.Close()
				return
			}
		case <-c.closing:
			c.drainAndClose()
			return
		}
	}
}

// drainAndClose writes whatever is already queued, then tears the socket
// down. This is how a terminal ERROR report reaches the peer before the
// close.
func (c *conn) drainAndClose() {
	for {
		select {
		case frame := <-c.outCh:
			if _, err := c.netConn.Write(frame); err != nil {
				c.Close()
				return
			}
		default:
			c.Close()
			return
		}
	}
}

// Close tears the connection down immediately, discarding unsent frames.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.netConn.Close()
	})
}

// CloseAfterFlush asks the write loop to send already-queued frames and
// then close.
func (c *conn) CloseAfterFlush() {
	c.flushOnce.Do(func() { close(c.closing) })
}
