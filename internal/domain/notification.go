package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType names a notification template.
type NotificationType string

const (
	NotifyMessageReceived NotificationType = "MESSAGE_RECEIVED"
	NotifyRoomInvite      NotificationType = "ROOM_INVITE"
	NotifyUserBanned      NotificationType = "USER_BANNED"
	NotifyUserUnbanned    NotificationType = "USER_UNBANNED"
	NotifyMessageDeleted  NotificationType = "MESSAGE_DELETED"
	NotifyRolePromoted    NotificationType = "ROLE_PROMOTED"
)

// Notification is a persisted, per-user notification. Data holds the
// type-specific payload as raw JSON.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Read      bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// Rendered is the human-facing form of a notification.
type Rendered struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// Render formats the notification with its template. Unknown types fall back
// to a generic notice.
func (n Notification) Render() Rendered {
	var d map[string]any
	_ = json.Unmarshal(n.Data, &d)
	str := func(k string) string {
		if v, ok := d[k].(string); ok {
			return v
		}
		return ""
	}

	switch n.Type {
	case NotifyMessageReceived:
		return Rendered{
			Title:    "New Message",
			Message:  fmt.Sprintf("You have a new message from %s", str("senderName")),
			Action:   "/chat/" + str("senderId"),
			Priority: "normal",
		}
	case NotifyRoomInvite:
		return Rendered{
			Title:    "Room Invitation",
			Message:  fmt.Sprintf("You've been invited to join %s", str("roomName")),
			Action:   "/rooms/" + str("roomId"),
			Priority: "high",
		}
	case NotifyUserBanned:
		reason := str("reason")
		if reason == "" {
			reason = "Violation of terms"
		}
		return Rendered{
			Title:    "Account Suspended",
			Message:  "Your account has been suspended. Reason: " + reason,
			Action:   "/support",
			Priority: "urgent",
		}
	case NotifyUserUnbanned:
		return Rendered{
			Title:    "Account Restored",
			Message:  "Your account has been reinstated",
			Action:   "/",
			Priority: "high",
		}
	case NotifyMessageDeleted:
		return Rendered{
			Title:    "Message Removed",
			Message:  "One of your messages was removed by an administrator",
			Action:   "/guidelines",
			Priority: "normal",
		}
	case NotifyRolePromoted:
		return Rendered{
			Title:    "You are now a room admin",
			Message:  "You were promoted to admin of a room you belong to",
			Action:   "/rooms/" + str("roomId"),
			Priority: "normal",
		}
	}
	return Rendered{
		Title:    "Notification",
		Message:  "You have a new notification",
		Action:   "/notifications",
		Priority: "normal",
	}
}

// NotificationPage is one page of a user's notifications.
type NotificationPage struct {
	Items   []Notification `json:"notifications"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	Total   int            `json:"total"`
	Unread  int            `json:"unread"`
	HasNext bool           `json:"has_next"`
	HasPrev bool           `json:"has_prev"`
}

// NotificationStore is the external notification collaborator.
type NotificationStore interface {
	// Create stores n. When a notification with the same id already exists it
	// returns the stored record together with ErrAlreadyExists.
	Create(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context, userID string, page, limit int) (NotificationPage, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, notificationID string) error
}
