package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Memory is an in-process gateway over watermill's GoChannel. Each queue
// has an outbox drained by one forwarder, which hands a message on only after
// the previous one was acknowledged, so deliveries keep publish order. The
// outbox retains messages until a consumer attaches, and a nacked message is
// redelivered before anything behind it. Several components may share one
// Memory to simulate instances attached to the same broker.
type Memory struct {
	ch       *gochannel.GoChannel
	declared declaredSet
	cfg      Config
	closed   atomic.Bool
	logger   *slog.Logger

	mu       sync.Mutex
	outboxes map[string]*outbox
	done     chan struct{}
	forwards sync.WaitGroup
}

// NewMemory creates an in-process gateway.
func NewMemory(cfg Config) *Memory {
	cfg.setDefaults()
	return &Memory{
		ch: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 1, BlockPublishUntilSubscriberAck: true},
			watermill.NewStdLogger(false, false),
		),
		cfg:      cfg,
		logger:   slog.Default().With("component", "broker", "driver", "memory"),
		outboxes: make(map[string]*outbox),
		done:     make(chan struct{}),
	}
}

func (m *Memory) DeclareQueue(ctx context.Context, name string, durable bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outboxes[name]; !ok {
		o := &outbox{wake: make(chan struct{}, 1)}
		m.outboxes[name] = o
		m.forwards.Add(1)
		go m.forward(name, o)
	}
	m.declared.add(name)
	return nil
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.declared.check(msg.Queue); err != nil {
		return err
	}
	msg = prepare(msg)

	wm := message.NewMessage(msg.ID, msg.Body)
	for k, v := range msg.Headers {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(metadataKey, msg.Key)
	m.queueOutbox(msg.Queue).push(wm)
	return nil
}

func (m *Memory) queueOutbox(queue string) *outbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outboxes[queue]
}

// forward moves messages from the outbox into the GoChannel one at a time.
// Publish blocks until every attached consumer acked, nacks included.
func (m *Memory) forward(queue string, o *outbox) {
	defer m.forwards.Done()
	for {
		select {
		case <-m.done:
			return
		case <-o.wake:
		}
		for {
			wm, ok := o.head()
			if !ok {
				break
			}
			if err := m.ch.Publish(queue, wm); err != nil {
				return
			}
			// A consumer that left mid-delivery did not ack; keep the
			// message for the next one.
			if !o.settle(wm.UUID) {
				break
			}
		}
	}
}

func (m *Memory) Consume(ctx context.Context, queue string, h Handler) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.declared.check(queue); err != nil {
		return err
	}

	deliveries, err := m.ch.Subscribe(ctx, queue)
	if err != nil {
		return err
	}
	o := m.queueOutbox(queue)
	o.attach(1)
	defer o.attach(-1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case wm, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			}
			msg := fromWatermill(queue, wm)
			if err := h(ctx, msg); err != nil {
				m.logger.Warn("delivery failed, releasing for redelivery",
					"queue", queue, "message_id", msg.ID, "error", err)
				sleepCtx(ctx, m.cfg.RedeliveryDelay)
				wm.Nack()
				continue
			}
			o.acked(wm.UUID)
			wm.Ack()
		}
	}
}

func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.done)
	err := m.ch.Close()
	m.forwards.Wait()
	return err
}

// outbox is the ordered backlog of one queue.
type outbox struct {
	mu        sync.Mutex
	pending   []*message.Message
	ackedID   string
	consumers int
	wake      chan struct{}
}

func (o *outbox) push(wm *message.Message) {
	o.mu.Lock()
	o.pending = append(o.pending, wm)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) attach(delta int) {
	o.mu.Lock()
	o.consumers += delta
	o.mu.Unlock()
	o.signal()
}

// head returns the oldest message while a consumer is attached.
func (o *outbox) head() (*message.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.consumers == 0 || len(o.pending) == 0 {
		return nil, false
	}
	return o.pending[0], true
}

func (o *outbox) acked(id string) {
	o.mu.Lock()
	o.ackedID = id
	o.mu.Unlock()
}

// settle drops the head if a consumer acked it.
func (o *outbox) settle(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ackedID != id {
		return false
	}
	o.ackedID = ""
	o.pending[0] = nil
	o.pending = o.pending[1:]
	return true
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// metadataKey carries Message.Key through watermill metadata.
const metadataKey = "_key"

func fromWatermill(queue string, wm *message.Message) Message {
	headers := make(map[string]string, len(wm.Metadata))
	for k, v := range wm.Metadata {
		if k != metadataKey {
			headers[k] = v
		}
	}
	return Message{
		ID:         wm.UUID,
		Queue:      queue,
		Key:        wm.Metadata.Get(metadataKey),
		Body:       wm.Payload,
		Headers:    headers,
		Persistent: true,
	}
}
