package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfrund/chathub/internal/broker"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/nfrund/chathub/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DeclareQueues declares every queue the engine uses as durable.
func (e *Engine) DeclareQueues(ctx context.Context) error {
	for _, q := range event.Queues {
		if err := e.deps.Broker.DeclareQueue(ctx, q, true); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}

// Run consumes message_queue and notification_queue until ctx is cancelled.
// A consumer failing irrecoverably stops both and its error is returned; the
// caller is expected to exit so a supervisor restarts the process.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.deps.Broker.Consume(ctx, event.MessageQueue, e.HandleMessage)
	})
	g.Go(func() error {
		return e.deps.Broker.Consume(ctx, event.NotificationQueue, e.HandleNotification)
	})
	return g.Wait()
}

func (e *Engine) decode(queue string, msg broker.Message) (event.Event, bool) {
	ev, err := event.Decode(msg.Body)
	if err != nil {
		// Redelivering a malformed envelope cannot help; acknowledge it.
		e.deps.Metrics.Consumed.WithLabelValues(queue, metrics.ConsumeInvalid).Inc()
		e.logger.Error("discarding malformed envelope", "queue", queue, "message_id", msg.ID, "error", err)
		return event.Event{}, false
	}
	return ev, true
}

// HandleMessage processes one message_queue delivery. Envelopes this instance
// published were already pushed locally on accept. A direct message whose
// receiver has no live session here turns into a MESSAGE_RECEIVED
// notification.
func (e *Engine) HandleMessage(ctx context.Context, msg broker.Message) error {
	ev, ok := e.decode(event.MessageQueue, msg)
	if !ok {
		return nil
	}

	result := metrics.ConsumeAck
	if ev.Origin != e.deps.InstanceID {
		switch ev.Kind {
		case event.RoomMessage:
			e.pushRoom(ctx, ev.RoomID, "", messageFrame(ev))
		case event.DirectMessage:
			e.pushUsers(messageFrame(ev), ev.ReceiverID, ev.SenderID)
		}
	} else {
		result = metrics.ConsumeSkipped
	}

	if ev.Kind == event.DirectMessage && !e.deps.Sessions.IsOnline(ev.ReceiverID) {
		if err := e.notifyOffline(ctx, ev); err != nil {
			e.deps.Metrics.Consumed.WithLabelValues(event.MessageQueue, metrics.ConsumeRetry).Inc()
			return err
		}
	}

	e.deps.Metrics.Consumed.WithLabelValues(event.MessageQueue, result).Inc()
	return nil
}

// notifyOffline queues the MESSAGE_RECEIVED notification for an offline
// receiver. The notification reuses the message event id, so a redelivered
// message envelope cannot create a second record.
func (e *Engine) notifyOffline(ctx context.Context, ev event.Event) error {
	e.logger.Info("receiver offline, queueing notification", "event_id", ev.ID, "user_id", ev.ReceiverID)

	n := event.New(event.Notification, ev.SenderID)
	n.ID = ev.ID
	n.Origin = e.deps.InstanceID
	n.Notice = &event.Notice{
		Type:   domain.NotifyMessageReceived,
		UserID: ev.ReceiverID,
		Data: mustJSON(map[string]string{
			"senderId":   ev.SenderID,
			"senderName": ev.SenderName,
			"messageId":  ev.Message.ID,
			"preview":    preview(ev.Message.Content),
		}),
	}
	if !e.publish(ctx, n) {
		return fmt.Errorf("queue offline notification for %s: publish failed", ev.ReceiverID)
	}
	return nil
}

func preview(content string) string {
	const max = 100
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}

// HandleNotification processes one notification_queue delivery: the
// notification is stored under the event id and pushed to the user's live
// sessions. A redelivered envelope finds the stored record and is
// acknowledged without a second push.
func (e *Engine) HandleNotification(ctx context.Context, msg broker.Message) error {
	ev, ok := e.decode(event.NotificationQueue, msg)
	if !ok {
		return nil
	}
	if ev.Kind != event.Notification {
		e.deps.Metrics.Consumed.WithLabelValues(event.NotificationQueue, metrics.ConsumeInvalid).Inc()
		e.logger.Error("unexpected event on notification queue", "event_id", ev.ID, "kind", ev.Kind)
		return nil
	}

	err := e.deliverNotice(ctx, ev)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		e.deps.Metrics.Consumed.WithLabelValues(event.NotificationQueue, metrics.ConsumeSkipped).Inc()
		e.logger.Debug("duplicate notification delivery", "event_id", ev.ID)
		return nil
	case err != nil:
		e.deps.Metrics.Consumed.WithLabelValues(event.NotificationQueue, metrics.ConsumeRetry).Inc()
		return err
	}
	e.deps.Metrics.Consumed.WithLabelValues(event.NotificationQueue, metrics.ConsumeAck).Inc()
	return nil
}

func (e *Engine) deliverNotice(ctx context.Context, ev event.Event) error {
	stored, err := e.deps.Notifications.Create(ctx, domain.Notification{
		ID:        ev.ID,
		UserID:    ev.Notice.UserID,
		Type:      ev.Notice.Type,
		Data:      ev.Notice.Data,
		CreatedAt: ev.Timestamp,
	})
	if err != nil {
		return domain.NewPersistenceError("create notification", err)
	}
	e.pushUsers(notificationFrame(stored), stored.UserID)
	return nil
}
