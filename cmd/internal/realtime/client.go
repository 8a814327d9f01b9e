package realtime

import (
	"sync"

	v1 "quill/contracts/realtime/v1"
)

// Frame is one queued outbound envelope. The connection is closed after a
// Final frame has been written.
type Frame struct {
	Envelope v1.Envelope
	Final    bool
}

// Client represents one authenticated websocket connection.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// done signals the connection goroutines to stop and Close is idempotent.
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Send      chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan Frame, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. A gateway connection whose
// client is closed from outside is shut down as revoked.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer queues f without blocking. It reports false when the client is
// closing or its queue is full.
func (c *Client) offer(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}
