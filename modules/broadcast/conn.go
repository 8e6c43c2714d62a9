package broadcast

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/support-chat/domain/chat"
	"github.com/gofiber/contrib/websocket"
)

const (
	// DefaultSendBuffer is the number of frames queued per connection before drops start.
	DefaultSendBuffer = 256
	writeWait         = 10 * time.Second
)

// ErrConnClosed is returned when writing to a connection that has been closed.
var ErrConnClosed = errors.New("connection closed")

// Transport is the write side of a socket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is a live, authenticated socket connection. Frames are written by a dedicated
// goroutine so that fan-out never blocks on a slow peer.
type Conn struct {
	ID     string
	UserID string
	Role   chat.Role

	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newConn(id string, identity chat.Identity, transport Transport, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		ID:        id,
		UserID:    identity.UserID,
		Role:      identity.Role,
		transport: transport,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

// Identity returns the verified identity bound to the connection.
func (c *Conn) Identity() chat.Identity {
	return chat.Identity{UserID: c.UserID, Role: c.Role}
}

// Deliver queues data without blocking. It reports false when the queue is full or the
// connection is closed; the frame is dropped in that case.
func (c *Conn) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[broadcast] Connection %s send queue full, %d frames dropped", c.ID, n)
		}
		return false
	}
}

// Reply queues data, waiting for queue space until ctx is done or the connection closes.
// Used for acknowledgements, which must not be dropped silently.
func (c *Conn) Reply(ctx context.Context, data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of frames dropped because the queue was full.
func (c *Conn) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops the writer. Frames already queued are flushed first.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) writePump() {
	defer func() {
		_ = c.transport.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				log.Printf("[broadcast] Write to connection %s failed: %v", c.ID, err)
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
	return c.transport.WriteMessage(websocket.TextMessage, data)
}
