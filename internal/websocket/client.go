package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides what happens when a session's outbound buffer is
// full.
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued frame to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Disconnect closes the session.
	Disconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy validates a configured policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, Disconnect:
		return p, nil
	case "":
		return DropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q (want %s or %s)", s, DropOldest, Disconnect)
}

// MinSendBuffer is the smallest accepted outbound buffer.
const MinSendBuffer = 16

// Client is the outbound side of one connection. Push never blocks, so a slow
// connection cannot stall fan-out to others.
type Client struct {
	SessionID string
	UserID    string

	send   chan []byte
	policy OverflowPolicy
	// mu serializes pushes so drop-oldest evicts and enqueues as one step.
	mu sync.Mutex

	dropped    atomic.Int64
	overflowed atomic.Bool
	onDrop     func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client with a bounded buffer of size frames.
func NewClient(userID string, size int, policy OverflowPolicy) *Client {
	if size < MinSendBuffer {
		size = MinSendBuffer
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Client{
		UserID: userID,
		send:   make(chan []byte, size),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Push queues frame for writing. It reports false when the client is closed
// or the overflow policy refused the frame.
func (c *Client) Push(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.send <- frame:
		return true
	default:
	}

	if c.policy == Disconnect {
		c.overflowed.Store(true)
		c.Close()
		return false
	}

	select {
	case <-c.send:
		c.drop()
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.drop()
		return false
	}
}

func (c *Client) drop() {
	c.dropped.Add(1)
	if c.onDrop != nil {
		c.onDrop()
	}
}

// Send returns the queue drained by the writer.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close is idempotent. The send channel stays open so concurrent pushes never
// write to a closed channel.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Dropped is the number of frames evicted under DropOldest.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Overflowed reports whether the client was closed by the Disconnect policy.
func (c *Client) Overflowed() bool {
	return c.overflowed.Load()
}
