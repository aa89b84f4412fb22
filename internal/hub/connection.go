// ABOUTME: Connection wraps one live client's buffered outbound envelope stream
// ABOUTME: Sends are non-blocking; a full buffer drops the envelope, not the caller

package hub

import (
	"sync"

	"github.com/confab-dev/confab/internal/protocol"
	"github.com/confab-dev/confab/internal/store"
)

// connBufferSize is the per-connection outbound buffer. A subscriber that
// falls more than this many envelopes behind starts losing them
// (at-most-once live delivery; recovery is a re-join resync).
const connBufferSize = 64

// Connection is one registered client connection. The transport layer drains
// Events and writes each envelope to the socket.
type Connection struct {
	ID     string
	Source store.Source

	mu     sync.RWMutex
	send   chan *protocol.Envelope
	closed bool
}

func newConnection(id string, src store.Source) *Connection {
	return &Connection{
		ID:     id,
		Source: src,
		send:   make(chan *protocol.Envelope, connBufferSize),
	}
}

// Events returns the outbound envelope stream. The channel is closed when
// the connection is disconnected from the hub.
func (c *Connection) Events() <-chan *protocol.Envelope {
	return c.send
}

// trySend queues an envelope without blocking. It returns sendOK on success,
// sendFull when the buffer is full, and sendClosed for a dead connection.
// The read lock is held across the send so close cannot race it.
func (c *Connection) trySend(env *protocol.Envelope) sendResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return sendClosed
	}
	select {
	case c.send <- env:
		return sendOK
	default:
		return sendFull
	}
}

// close marks the connection dead and closes its stream. Idempotent.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)
