// Package event defines the tagged events that flow through the fan-out
// engine and the envelopes that carry them across the broker.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/oklog/ulid/v2"
)

// Kind is the event tag.
type Kind string

const (
	RoomMessage   Kind = "ROOM_MESSAGE"
	DirectMessage Kind = "DIRECT_MESSAGE"
	UserJoined    Kind = "USER_JOINED"
	UserLeft      Kind = "USER_LEFT"
	TypingStart   Kind = "TYPING_START"
	TypingStop    Kind = "TYPING_STOP"
	Notification  Kind = "NOTIFICATION"
)

// Kinds lists every known tag.
var Kinds = []Kind{RoomMessage, DirectMessage, UserJoined, UserLeft, TypingStart, TypingStop, Notification}

// Valid reports whether k is a known tag.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Broker queue names.
const (
	MessageQueue      = "message_queue"
	NotificationQueue = "notification_queue"
)

// Queues lists every queue the engine publishes to and consumes from.
var Queues = []string{MessageQueue, NotificationQueue}

// Queue returns the queue an event of this kind is published on, or "" for
// ephemeral kinds that never leave the instance.
func (k Kind) Queue() string {
	switch k {
	case RoomMessage, DirectMessage:
		return MessageQueue
	case Notification:
		return NotificationQueue
	}
	return ""
}

// Notice is the payload of a NOTIFICATION event.
type Notice struct {
	Type   domain.NotificationType `json:"type"`
	UserID string                  `json:"user_id"`
	Data   json.RawMessage         `json:"data,omitempty"`
}

// Event is immutable once created by the engine. It carries everything needed
// to route it without further lookups beyond membership and session resolution.
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	SenderID   string          `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	ReceiverID string          `json:"receiver_id,omitempty"`
	Message    *domain.Message `json:"message,omitempty"`
	Notice     *Notice         `json:"notice,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	// Origin is the id of the instance that accepted the event.
	Origin string `json:"origin,omitempty"`
}

// NewID returns a new lexically sortable event id.
func NewID() string {
	return ulid.Make().String()
}

// New creates an event with a fresh id and the current time.
func New(kind Kind, senderID string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the routing fields required by the event's kind.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is required", domain.ErrInvalidInput)
	}
	switch e.Kind {
	case RoomMessage, UserJoined, UserLeft:
		if e.RoomID == "" {
			return fmt.Errorf("%w: %s requires a room id", domain.ErrInvalidInput, e.Kind)
		}
	case DirectMessage:
		if e.ReceiverID == "" {
			return fmt.Errorf("%w: %s requires a receiver id", domain.ErrInvalidInput, e.Kind)
		}
	case TypingStart, TypingStop:
		if e.RoomID == "" && e.ReceiverID == "" {
			return fmt.Errorf("%w: %s requires a room or receiver id", domain.ErrInvalidInput, e.Kind)
		}
	case Notification:
		if e.Notice == nil || e.Notice.UserID == "" || e.Notice.Type == "" {
			return fmt.Errorf("%w: notification requires a user and type", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, e.Kind)
	}
	if (e.Kind == RoomMessage || e.Kind == DirectMessage) && e.Message == nil {
		return fmt.Errorf("%w: %s requires a message", domain.ErrInvalidInput, e.Kind)
	}
	return nil
}

// Encode serializes the event as a broker message body.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates a broker message body.
func Decode(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", domain.ErrInvalidInput, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
