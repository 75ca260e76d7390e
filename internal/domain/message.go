package domain

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength bounds the text of one message, counted in runes.
const MaxContentLength = 4000

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageSystem MessageType = "SYSTEM"
)

// Message is a chat message. Exactly one of RoomID and ReceiverID is set.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	RoomID     string      `json:"room_id,omitempty"`
	ReceiverID string      `json:"receiver_id,omitempty"`
	Content    string      `json:"content,omitempty"`
	ImageURL   string      `json:"image_url,omitempty"`
	Type       MessageType `json:"message_type"`
	Read       bool        `json:"is_read"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IsDirect reports whether the message is addressed to a single user.
func (m Message) IsDirect() bool {
	return m.ReceiverID != ""
}

// Validate checks the content rules shared by room and direct messages and
// fills in the message type.
func (m *Message) Validate() error {
	m.Content = strings.TrimSpace(m.Content)
	m.ImageURL = strings.TrimSpace(m.ImageURL)
	switch {
	case m.Content == "" && m.ImageURL == "":
		return invalid("message content or image is required")
	case m.RoomID != "" && m.ReceiverID != "":
		return invalid("message cannot target both a room and a receiver")
	case m.RoomID == "" && m.ReceiverID == "":
		return invalid("either room id or receiver id is required")
	case utf8.RuneCountInString(m.Content) > MaxContentLength:
		return invalid("message content is too long")
	}
	if m.Type == "" {
		m.Type = MessageText
		if m.Content == "" {
			m.Type = MessageImage
		}
	}
	return nil
}

// HistoryQuery selects one page of a conversation: a room, or the direct
// conversation between UserID and PeerID.
type HistoryQuery struct {
	RoomID string
	UserID string
	PeerID string
	Page   int
	Limit  int
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Normalize clamps Page and Limit into their accepted ranges.
func (q *HistoryQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
}

// Offset is the number of records skipped before the page.
func (q HistoryQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// MessageStore is the external message persistence collaborator.
type MessageStore interface {
	// Persist stores msg and returns it with its canonical id and timestamp.
	Persist(ctx context.Context, msg Message) (Message, error)
	// History returns one page in chronological order.
	History(ctx context.Context, q HistoryQuery) ([]Message, error)
	// MarkRead marks the direct messages from senderID to receiverID as read.
	MarkRead(ctx context.Context, receiverID, senderID string) error
}
