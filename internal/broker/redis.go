package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisBlock    = 2 * time.Second
	redisBatch    = 16
	redisMinIdle  = 30 * time.Second
	redisMaxLen   = 100000
	fieldBody     = "body"
	fieldHeaders  = "headers"
	fieldKey      = "key"
	busyGroupCode = "BUSYGROUP"
)

// Redis is a gateway over Redis Streams. A queue is a stream with one consumer
// group; deliveries are acknowledged with XACK and entries left pending by a
// consumer that went away are reclaimed with XAUTOCLAIM.
type Redis struct {
	client   *redis.Client
	cfg      Config
	declared declaredSet
	closed   atomic.Bool
	logger   *slog.Logger
	// claimIdle is how long an entry stays pending before another consumer
	// takes it over, and how often Consume looks for such entries.
	claimIdle time.Duration
}

func connectRedis(ctx context.Context, rawURL string, cfg Config) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", opt.Addr, err)
	}
	return NewRedis(client, cfg), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	cfg.setDefaults()
	return &Redis{
		client:    client,
		cfg:       cfg,
		logger:    slog.Default().With("component", "broker", "driver", "redis"),
		claimIdle: redisMinIdle,
	}
}

func (r *Redis) DeclareQueue(ctx context.Context, name string, durable bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	err := r.client.XGroupCreateMkStream(ctx, name, r.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupCode) {
		return fmt.Errorf("declare redis stream %s: %w", name, err)
	}
	r.declared.add(name)
	return nil
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.declared.check(msg.Queue); err != nil {
		return err
	}
	msg = prepare(msg)

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Queue,
		MaxLen: redisMaxLen,
		Approx: true,
		Values: map[string]any{
			fieldBody:    msg.Body,
			fieldHeaders: string(headers),
			fieldKey:     msg.Key,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", msg.Queue, err)
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, queue string, h Handler) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.declared.check(queue); err != nil {
		return err
	}
	r.logger.Info("redis consumer started", "queue", queue, "group", r.cfg.Group, "consumer", r.cfg.Consumer)

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.closed.Load() {
			return ErrClosed
		}

		if time.Since(lastClaim) >= r.claimIdle {
			if err := r.reclaim(ctx, queue, h); err != nil {
				return err
			}
			lastClaim = time.Now()
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{queue, ">"},
			Count:    redisBatch,
			Block:    redisBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("xreadgroup %s: %w", queue, err)
		}
		for _, s := range streams {
			for _, xm := range s.Messages {
				r.handle(ctx, queue, xm, h)
			}
		}
	}
}

// reclaim takes over entries another consumer left pending for too long.
func (r *Redis) reclaim(ctx context.Context, queue string, h Handler) error {
	start := "0-0"
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   queue,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.claimIdle,
			Start:    start,
			Count:    redisBatch,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("xautoclaim %s: %w", queue, err)
		}
		for _, xm := range msgs {
			r.handle(ctx, queue, xm, h)
		}
		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

// handle retries a failed delivery in place so later entries of the stream
// wait behind it. An entry still unacknowledged when ctx ends stays pending
// and is reclaimed by XAUTOCLAIM.
func (r *Redis) handle(ctx context.Context, queue string, xm redis.XMessage, h Handler) {
	msg := fromRedis(queue, xm)
	for {
		err := h(ctx, msg)
		if err == nil {
			break
		}
		r.logger.Warn("delivery failed, retrying",
			"queue", queue, "message_id", msg.ID, "stream_id", xm.ID, "error", err)
		sleepCtx(ctx, r.cfg.RedeliveryDelay)
		if ctx.Err() != nil || r.closed.Load() {
			return
		}
	}
	if err := r.client.XAck(ctx, queue, r.cfg.Group, xm.ID).Err(); err != nil {
		r.logger.Error("xack failed", "queue", queue, "stream_id", xm.ID, "error", err)
	}
}

func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}

func fromRedis(queue string, xm redis.XMessage) Message {
	headers := map[string]string{}
	if raw, ok := xm.Values[fieldHeaders].(string); ok {
		_ = json.Unmarshal([]byte(raw), &headers)
	}
	body, _ := xm.Values[fieldBody].(string)
	key, _ := xm.Values[fieldKey].(string)
	return Message{
		ID:         headers[HeaderMessageID],
		Queue:      queue,
		Key:        key,
		Body:       []byte(body),
		Headers:    headers,
		Persistent: true,
	}
}
