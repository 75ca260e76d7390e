// Package fanout is the delivery engine: it authorizes inbound events,
// persists them, publishes them to the broker and pushes them to the live
// sessions of their recipients.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/chathub/internal/broker"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/nfrund/chathub/internal/keylock"
	"github.com/nfrund/chathub/internal/metrics"
	"github.com/nfrund/chathub/internal/room"
	"github.com/nfrund/chathub/internal/session"
)

// Membership is the read side of room membership used on the delivery path.
// room.MembershipCache satisfies it.
type Membership interface {
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	Members(ctx context.Context, roomID string) ([]domain.Member, error)
	RoomsOf(ctx context.Context, userID string) ([]string, error)
}

// Rooms performs membership changes. room.Service satisfies it.
type Rooms interface {
	Join(ctx context.Context, userID, roomID string) (bool, error)
	Leave(ctx context.Context, userID, roomID string) (room.Transition, error)
}

// Deps are the collaborators of an Engine. All fields except Metrics are
// required.
type Deps struct {
	InstanceID    string
	Sessions      *session.Registry
	Broker        broker.Gateway
	Membership    Membership
	Rooms         Rooms
	Users         domain.UserDirectory
	Messages      domain.MessageStore
	Notifications domain.NotificationStore
	Metrics       *metrics.Metrics
	// PublishTimeout bounds each broker publish. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// DefaultPublishTimeout is how long a send waits on the broker before the
// publish is logged as failed and delivery continues locally.
const DefaultPublishTimeout = 5 * time.Second

// Result is what an accepted event produced, for the transport to answer with.
type Result struct {
	Event event.Event
	// Joined is false when a join found the user already a member.
	Joined  bool
	Outcome room.Outcome
	// Promoted is the member raised to admin by a leave.
	Promoted string
}

type handlerFunc func(ctx context.Context, sender domain.Identity, ev *event.Event) (Result, error)

// Engine is safe for concurrent use by any number of sessions.
type Engine struct {
	deps     Deps
	senders  *keylock.Map
	handlers map[event.Kind]handlerFunc
	logger   *slog.Logger
}

// New creates an engine. It must be subscribed to the presence tracker by the
// caller to announce presence to rooms.
func New(deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = DefaultPublishTimeout
	}
	e := &Engine{
		deps:    deps,
		senders: keylock.New(),
		logger:  slog.Default().With("component", "fanout", "instance_id", deps.InstanceID),
	}
	e.handlers = map[event.Kind]handlerFunc{
		event.RoomMessage:   e.roomMessage,
		event.DirectMessage: e.directMessage,
		event.UserJoined:    e.joinRoom,
		event.UserLeft:      e.leaveRoom,
		event.TypingStart:   e.typing,
		event.TypingStop:    e.typing,
		event.Notification:  e.adminNotification,
	}
	return e
}

// Accept runs one inbound event from sender through the pipeline of its kind.
// A returned error was not fanned out and is meant for the sender only.
func (e *Engine) Accept(ctx context.Context, sender domain.Identity, ev event.Event) (Result, error) {
	h, ok := e.handlers[ev.Kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = event.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.SenderID = sender.UserID
	ev.SenderName = sender.Username
	ev.Origin = e.deps.InstanceID

	if err := ev.Validate(); err != nil {
		e.reject(ev, err)
		return Result{}, err
	}

	res, err := h(ctx, sender, &ev)
	if err != nil {
		e.reject(ev, err)
		return Result{}, err
	}
	e.deps.Metrics.Accepted.WithLabelValues(string(ev.Kind)).Inc()
	res.Event = ev
	return res, nil
}

func (e *Engine) reject(ev event.Event, err error) {
	code := ErrorCode(err)
	e.deps.Metrics.Rejected.WithLabelValues(string(ev.Kind), code).Inc()
	level := slog.LevelDebug
	if code == CodeInternal {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "event rejected",
		"event_id", ev.ID, "kind", ev.Kind, "user_id", ev.SenderID, "code", code, "error", err)
}

func (e *Engine) roomMessage(ctx context.Context, _ domain.Identity, ev *event.Event) (Result, error) {
	msg := *ev.Message
	msg.SenderID = ev.SenderID
	msg.RoomID = ev.RoomID
	msg.ReceiverID = ""
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}

	// Persist, publish and push happen in order for one sender.
	unlock := e.senders.Lock(ev.SenderID)
	defer unlock()

	ok, err := e.deps.Membership.IsMember(ctx, ev.SenderID, ev.RoomID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, domain.ErrNotMember
	}

	stored, err := e.persist(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	ev.Message = &stored

	e.publish(ctx, *ev)
	e.pushRoom(ctx, ev.RoomID, "", messageFrame(*ev))
	return Result{}, nil
}

func (e *Engine) directMessage(ctx context.Context, _ domain.Identity, ev *event.Event) (Result, error) {
	msg := *ev.Message
	msg.SenderID = ev.SenderID
	msg.ReceiverID = ev.ReceiverID
	msg.RoomID = ""
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}

	unlock := e.senders.Lock(ev.SenderID)
	defer unlock()

	if _, err := e.deps.Users.FindUser(ctx, ev.ReceiverID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, domain.ErrRecipientNotFound
		}
		return Result{}, domain.NewPersistenceError("find receiver", err)
	}

	stored, err := e.persist(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	ev.Message = &stored

	e.publish(ctx, *ev)
	e.pushUsers(messageFrame(*ev), ev.ReceiverID, ev.SenderID)
	return Result{}, nil
}

func (e *Engine) typing(ctx context.Context, sender domain.Identity, ev *event.Event) (Result, error) {
	typ := FrameUserTyping
	if ev.Kind == event.TypingStop {
		typ = FrameUserStopTyping
	}
	user := UserRef{ID: sender.UserID, Username: sender.Username}

	if ev.RoomID != "" {
		ok, err := e.deps.Membership.IsMember(ctx, ev.SenderID, ev.RoomID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, domain.ErrNotMember
		}
		e.pushRoom(ctx, ev.RoomID, ev.SenderID, Frame{Type: typ, Data: TypingPayload{User: user, RoomID: ev.RoomID}})
		return Result{}, nil
	}

	e.pushUsers(Frame{Type: typ, Data: TypingPayload{User: user, IsDirect: true}}, ev.ReceiverID)
	return Result{}, nil
}

func (e *Engine) joinRoom(ctx context.Context, sender domain.Identity, ev *event.Event) (Result, error) {
	joined, err := e.deps.Rooms.Join(ctx, ev.SenderID, ev.RoomID)
	if err != nil {
		return Result{}, err
	}
	e.pushRoom(ctx, ev.RoomID, ev.SenderID, Frame{Type: FrameUserJoined, Data: PresencePayload{
		User:      UserRef{ID: sender.UserID, Username: sender.Username},
		RoomID:    ev.RoomID,
		Timestamp: ev.Timestamp,
	}})
	return Result{Joined: joined}, nil
}

func (e *Engine) leaveRoom(ctx context.Context, sender domain.Identity, ev *event.Event) (Result, error) {
	t, err := e.deps.Rooms.Leave(ctx, ev.SenderID, ev.RoomID)
	if err != nil {
		return Result{}, err
	}

	if !t.Delete {
		e.pushRoom(ctx, ev.RoomID, ev.SenderID, Frame{Type: FrameUserLeft, Data: PresencePayload{
			User:      UserRef{ID: sender.UserID, Username: sender.Username},
			RoomID:    ev.RoomID,
			Timestamp: ev.Timestamp,
		}})
	}
	if t.Promote != "" {
		_, err := e.Notify(ctx, event.Notice{
			Type:   domain.NotifyRolePromoted,
			UserID: t.Promote,
			Data:   mustJSON(map[string]string{"roomId": ev.RoomID, "role": string(domain.RoomRoleAdmin)}),
		})
		if err != nil {
			e.logger.Warn("failed to notify promoted member", "room_id", ev.RoomID, "user_id", t.Promote, "error", err)
		}
	}
	return Result{Outcome: t.Outcome, Promoted: t.Promote}, nil
}

func (e *Engine) adminNotification(ctx context.Context, sender domain.Identity, ev *event.Event) (Result, error) {
	if !sender.IsAdmin() {
		return Result{}, fmt.Errorf("%w: admin role required", domain.ErrUnauthorized)
	}
	e.dispatchNotice(ctx, *ev)
	return Result{}, nil
}

// Notify queues a notification for one user on notification_queue. The
// notification is stored and pushed by the notification consumer.
func (e *Engine) Notify(ctx context.Context, n event.Notice) (event.Event, error) {
	ev := event.New(event.Notification, "")
	ev.Notice = &n
	ev.Origin = e.deps.InstanceID
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	e.dispatchNotice(ctx, ev)
	return ev, nil
}

// dispatchNotice publishes a notification event. When the broker refuses it
// the notification is stored and pushed locally instead, since nothing else
// would create the record.
func (e *Engine) dispatchNotice(ctx context.Context, ev event.Event) {
	if e.publish(ctx, ev) {
		return
	}
	if err := e.deliverNotice(ctx, ev); err != nil {
		e.logger.Error("failed to deliver notification locally", "event_id", ev.ID, "user_id", ev.Notice.UserID, "error", err)
	}
}

func (e *Engine) persist(ctx context.Context, msg domain.Message) (domain.Message, error) {
	start := time.Now()
	stored, err := e.deps.Messages.Persist(ctx, msg)
	e.deps.Metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Message{}, domain.NewPersistenceError("persist message", err)
	}
	return stored, nil
}

// publish hands ev to the broker and reports whether it was accepted. A
// failure is logged and counted, never retried.
func (e *Engine) publish(ctx context.Context, ev event.Event) bool {
	queue := ev.Kind.Queue()
	body, err := event.Encode(ev)
	if err != nil {
		e.logger.Error("failed to encode event", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.deps.PublishTimeout)
	defer cancel()
	err = e.deps.Broker.Publish(ctx, broker.Message{
		ID:         ev.ID,
		Queue:      queue,
		Key:        routingKey(ev),
		Body:       body,
		Persistent: true,
	})
	if err != nil {
		e.deps.Metrics.PublishFailures.WithLabelValues(queue).Inc()
		e.logger.Error("broker publish failed", "queue", queue, "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return false
	}
	e.deps.Metrics.Published.WithLabelValues(queue).Inc()
	return true
}

// routingKey keeps the events of one sender on one partition.
func routingKey(ev event.Event) string {
	if ev.SenderID != "" {
		return ev.SenderID
	}
	if ev.Notice != nil {
		return ev.Notice.UserID
	}
	return ev.ID
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
