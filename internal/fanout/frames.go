package fanout

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
)

// Outbound frame types.
const (
	FrameRoomMessage    = "room_message"
	FrameDirectMessage  = "direct_message"
	FrameUserJoined     = "user_joined"
	FrameUserLeft       = "user_left"
	FrameUserTyping     = "user_typing"
	FrameUserStopTyping = "user_stop_typing"
	FrameNotification   = "notification"
	FrameJoinedRoom     = "joined_room"
	FrameLeftRoom       = "left_room"
	FrameRoomDeleted    = "room_deleted"
	FrameError          = "error"
)

// Error codes carried by error frames.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotInRoom    = "NOT_IN_ROOM"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Frame is the unit written to a session.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode marshals the frame. Payloads are plain structs, so a failure here is
// a programming error and is returned for logging only.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// UserRef identifies the user an event is about.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// MessagePayload is the body of room_message and direct_message frames.
type MessagePayload struct {
	EventID string `json:"event_id"`
	domain.Message
	SenderName string `json:"sender_name,omitempty"`
}

// PresencePayload is the body of user_joined and user_left frames.
type PresencePayload struct {
	User      UserRef   `json:"user"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPayload is the body of user_typing and user_stop_typing frames.
type TypingPayload struct {
	User     UserRef `json:"user"`
	RoomID   string  `json:"room_id,omitempty"`
	IsDirect bool    `json:"is_direct,omitempty"`
}

// NotificationPayload is the body of notification frames.
type NotificationPayload struct {
	domain.Notification
	domain.Rendered
}

// RoomAck answers join_room and leave_room.
type RoomAck struct {
	RoomID   string `json:"room_id"`
	Joined   bool   `json:"joined,omitempty"`
	Promoted string `json:"promoted,omitempty"`
}

// ErrorPayload is the body of error frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func messageFrame(ev event.Event) Frame {
	typ := FrameRoomMessage
	if ev.Kind == event.DirectMessage {
		typ = FrameDirectMessage
	}
	return Frame{Type: typ, Data: MessagePayload{
		EventID:    ev.ID,
		Message:    *ev.Message,
		SenderName: ev.SenderName,
	}}
}

func notificationFrame(n domain.Notification) Frame {
	return Frame{Type: FrameNotification, Data: NotificationPayload{
		Notification: n,
		Rendered:     n.Render(),
	}}
}

// ErrorCode maps an engine error to the code sent to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotMember):
		return CodeNotInRoom
	case errors.Is(err, domain.ErrRecipientNotFound), errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, domain.ErrInvalidInput):
		return CodeBadRequest
	}
	return CodeInternal
}

// ErrorFrame builds the error frame for err. Internal failures are not
// described to the client.
func ErrorFrame(err error) Frame {
	code := ErrorCode(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "failed to process request"
	}
	return Frame{Type: FrameError, Data: ErrorPayload{Code: code, Message: msg}}
}
