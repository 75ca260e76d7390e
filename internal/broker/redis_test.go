package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/chathub/internal/testutils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRedis(t *testing.T) {
	msg := fromRedis("message_queue", redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]any{
			fieldBody:    `{"id":"evt-1"}`,
			fieldHeaders: `{"message_id":"evt-1","origin":"instance-b"}`,
			fieldKey:     "bob",
		},
	})
	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, "message_queue", msg.Queue)
	assert.Equal(t, "bob", msg.Key)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(msg.Body))
	assert.True(t, msg.Persistent)
	assert.Equal(t, map[string]string{HeaderMessageID: "evt-1", "origin": "instance-b"}, msg.Headers)

	broken := fromRedis("q", redis.XMessage{ID: "1-0", Values: map[string]any{
		fieldBody:    "x",
		fieldHeaders: "{not json",
	}})
	assert.Empty(t, broken.ID)
	assert.Empty(t, broken.Key)
	assert.Equal(t, "x", string(broken.Body))
}

func newTestRedis(t *testing.T, consumer string) *Redis {
	t.Helper()
	url := testutils.BrokerURLForTests(t, "REDIS_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := connectRedis(ctx, url, Config{
		Group:           "chathub-test",
		Consumer:        consumer,
		RedeliveryDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_Integration(t *testing.T) {
	r := newTestRedis(t, "consumer-a")
	exerciseGateway(t, r, 10*time.Second)
}

func TestRedis_ReclaimsEntriesOfVanishedConsumer(t *testing.T) {
	r := newTestRedis(t, "consumer-b")
	r.claimIdle = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := "chathub-test-" + uuid.NewString()[:8]
	t.Cleanup(func() { r.client.Del(context.Background(), queue) })

	require.NoError(t, r.DeclareQueue(ctx, queue, true))
	require.NoError(t, r.Publish(ctx, Message{ID: "orphan", Queue: queue, Body: []byte("left behind")}))

	// A consumer reads the entry and disappears without acknowledging it.
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: "ghost",
		Streams:  []string{queue, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams[0].Messages, 1)

	got := &collector{}
	go func() {
		_ = r.Consume(ctx, queue, func(ctx context.Context, msg Message) error {
			got.add(msg)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(got.get()) == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "orphan", got.get()[0].ID)

	require.Eventually(t, func() bool {
		pending, err := r.client.XPending(context.Background(), queue, r.cfg.Group).Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 50*time.Millisecond, "the reclaimed entry is acknowledged")
}
