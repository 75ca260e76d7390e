// Package broker wraps a durable queue service behind a small gateway:
// declare, publish, consume with explicit acknowledgement, close.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueNotDeclared is returned when publishing to or consuming from a
	// queue that was not declared on this gateway.
	ErrQueueNotDeclared = errors.New("queue not declared")
	// ErrClosed is returned by operations on a closed gateway.
	ErrClosed = errors.New("broker gateway closed")
)

// Header keys set by the gateway.
const (
	HeaderMessageID = "message_id"
	HeaderQueue     = "queue"
)

// Message is the durable envelope exchanged with the broker.
type Message struct {
	// ID is assigned on publish when empty.
	ID    string
	Queue string
	// Key groups messages that must stay ordered relative to each other.
	Key        string
	Body       []byte
	Headers    map[string]string
	Persistent bool
}

// Handler processes one delivered message. Returning nil acknowledges it;
// returning an error leaves it unacknowledged so the broker redelivers it.
type Handler func(ctx context.Context, msg Message) error

// Gateway is the broker-facing contract used by the rest of the system.
type Gateway interface {
	// DeclareQueue is idempotent and must precede the first Publish or Consume
	// on that queue.
	DeclareQueue(ctx context.Context, name string, durable bool) error
	// Publish hands msg to the broker and returns once the broker accepted it.
	Publish(ctx context.Context, msg Message) error
	// Consume blocks, invoking h once per delivery, until ctx is cancelled
	// (returns nil) or the broker fails irrecoverably (returns the error).
	Consume(ctx context.Context, queue string, h Handler) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	// URL picks the driver by scheme: memory://, kafka://host:port[,host:port],
	// redis://host:port/db.
	URL string
	// Group is the consumer group shared by all instances.
	Group string
	// Consumer names this instance inside the group.
	Consumer string
	// RedeliveryDelay is how long a failed delivery waits before it is released
	// back to the broker.
	RedeliveryDelay time.Duration
	// PublishTimeout caps how long a networked driver keeps retrying a
	// produce before reporting it failed.
	PublishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Group == "" {
		c.Group = "chathub"
	}
	if c.Consumer == "" {
		c.Consumer = uuid.NewString()
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = 500 * time.Millisecond
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Connect establishes the broker connection. Callers treat an error as fatal:
// the broker is a hard dependency.
func Connect(ctx context.Context, cfg Config) (Gateway, error) {
	cfg.setDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	switch u.Scheme {
	case "memory", "":
		return NewMemory(cfg), nil
	case "kafka":
		return connectKafka(ctx, strings.TrimPrefix(cfg.URL, "kafka://"), cfg)
	case "redis", "rediss":
		return connectRedis(ctx, cfg.URL, cfg)
	}
	return nil, fmt.Errorf("unsupported broker scheme %q (want memory, kafka or redis)", u.Scheme)
}

// declaredSet remembers which queues were declared on a gateway.
type declaredSet struct {
	mu     sync.RWMutex
	queues map[string]bool
}

func (d *declaredSet) add(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues == nil {
		d.queues = make(map[string]bool)
	}
	d.queues[name] = true
}

func (d *declaredSet) check(name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.queues[name] {
		return fmt.Errorf("%w: %s", ErrQueueNotDeclared, name)
	}
	return nil
}

// prepare fills in the id and the gateway headers before publish.
func prepare(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderMessageID] = msg.ID
	headers[HeaderQueue] = msg.Queue
	msg.Headers = headers
	return msg
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
