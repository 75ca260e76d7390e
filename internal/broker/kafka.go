package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	kafkaAdminTimeout = 10 * time.Second
	kafkaPollMs       = 250
	kafkaFlushMs      = 5000
)

// Kafka is a gateway over Apache Kafka. A queue is a topic, durability comes
// from acks=all producers and manual offset commits after successful handling.
type Kafka struct {
	brokers  string
	cfg      Config
	producer *kafka.Producer
	admin    *kafka.AdminClient
	declared declaredSet
	logger   *slog.Logger

	closed    atomic.Bool
	consumers sync.WaitGroup
	eventsEnd chan struct{}
}

func connectKafka(ctx context.Context, brokers string, cfg Config) (*Kafka, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"message.timeout.ms": int(cfg.PublishTimeout.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	admin, err := kafka.NewAdminClientFromProducer(p)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create kafka admin client: %w", err)
	}

	// Fail now if no broker answers.
	if _, err := admin.GetMetadata(nil, false, int(kafkaAdminTimeout.Milliseconds())); err != nil {
		admin.Close()
		p.Close()
		return nil, fmt.Errorf("kafka unreachable at %s: %w", brokers, err)
	}

	k := &Kafka{
		brokers:   brokers,
		cfg:       cfg,
		producer:  p,
		admin:     admin,
		logger:    slog.Default().With("component", "broker", "driver", "kafka"),
		eventsEnd: make(chan struct{}),
	}
	go k.producerEvents()
	return k, nil
}

// producerEvents drains producer-level events that are not delivery reports.
func (k *Kafka) producerEvents() {
	defer close(k.eventsEnd)
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			k.logger.Error("kafka producer error", "code", ev.Code(), "fatal", ev.IsFatal(), "error", ev)
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.logger.Error("kafka delivery failed", "error", ev.TopicPartition.Error)
			}
		}
	}
}

func (k *Kafka) DeclareQueue(ctx context.Context, name string, durable bool) error {
	if k.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, kafkaAdminTimeout)
	defer cancel()

	spec := kafka.TopicSpecification{
		Topic:             name,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}
	if durable {
		spec.Config = map[string]string{"retention.ms": "-1"}
	}

	results, err := k.admin.CreateTopics(ctx, []kafka.TopicSpecification{spec})
	if err != nil {
		return fmt.Errorf("declare kafka topic %s: %w", name, err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("declare kafka topic %s: %v", r.Topic, r.Error)
		}
	}
	k.declared.add(name)
	return nil
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	if k.closed.Load() {
		return ErrClosed
	}
	if err := k.declared.check(msg.Queue); err != nil {
		return err
	}
	msg = prepare(msg)

	headers := make([]kafka.Header, 0, len(msg.Headers))
	for key, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}

	topic := msg.Queue
	report := make(chan kafka.Event, 1)
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Body,
		Headers:        headers,
	}, report)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-report:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("produce to %s: unexpected delivery event %v", topic, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("produce to %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	}
}

func (k *Kafka) Consume(ctx context.Context, queue string, h Handler) error {
	if k.closed.Load() {
		return ErrClosed
	}
	if err := k.declared.check(queue); err != nil {
		return err
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.brokers,
		"group.id":           k.cfg.Group,
		"client.id":          k.cfg.Consumer,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	k.consumers.Add(1)
	defer k.consumers.Done()
	defer c.Close()

	if err := c.SubscribeTopics([]string{queue}, nil); err != nil {
		return fmt.Errorf("subscribe to %s: %w", queue, err)
	}
	k.logger.Info("kafka consumer started", "queue", queue, "group", k.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if k.closed.Load() {
			return ErrClosed
		}

		switch e := c.Poll(kafkaPollMs).(type) {
		case *kafka.Message:
			msg := fromKafka(queue, e)
			if err := h(ctx, msg); err != nil {
				k.logger.Warn("delivery failed, rewinding for redelivery",
					"queue", queue, "message_id", msg.ID, "offset", e.TopicPartition.Offset, "error", err)
				sleepCtx(ctx, k.cfg.RedeliveryDelay)
				if err := c.Seek(e.TopicPartition, 0); err != nil {
					return fmt.Errorf("rewind %s: %w", queue, err)
				}
				continue
			}
			if _, err := c.CommitMessage(e); err != nil {
				k.logger.Error("commit failed", "queue", queue, "message_id", msg.ID, "error", err)
			}
		case kafka.Error:
			k.logger.Error("kafka consumer error", "queue", queue, "code", e.Code(), "fatal", e.IsFatal(), "error", e)
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error on %s: %w", queue, e)
			}
		}
	}
}

func (k *Kafka) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	k.consumers.Wait()
	k.producer.Flush(kafkaFlushMs)
	k.admin.Close()
	k.producer.Close()
	<-k.eventsEnd
	return nil
}

func fromKafka(queue string, m *kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, hd := range m.Headers {
		headers[hd.Key] = string(hd.Value)
	}
	return Message{
		ID:         headers[HeaderMessageID],
		Queue:      queue,
		Key:        string(m.Key),
		Body:       m.Value,
		Headers:    headers,
		Persistent: true,
	}
}
