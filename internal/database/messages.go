package database

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type messageRow struct {
	UID        string                 `json:"uid"`
	SenderID   string                 `json:"sender_id"`
	RoomID     string                 `json:"room_id,omitempty"`
	ReceiverID string                 `json:"receiver_id,omitempty"`
	Content    string                 `json:"content,omitempty"`
	ImageURL   string                 `json:"image_url,omitempty"`
	Type       string                 `json:"message_type"`
	Read       bool                   `json:"is_read"`
	CreatedAt  *models.CustomDateTime `json:"created_at"`
}

func (r messageRow) toDomain() domain.Message {
	m := domain.Message{
		ID:         r.UID,
		SenderID:   r.SenderID,
		RoomID:     r.RoomID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		ImageURL:   r.ImageURL,
		Type:       domain.MessageType(r.Type),
		Read:       r.Read,
	}
	if r.CreatedAt != nil {
		m.CreatedAt = r.CreatedAt.Time
	}
	return m
}

const messageFields = "uid, sender_id, room_id, receiver_id, content, image_url, message_type, is_read, created_at"

// MessageStore is a domain.MessageStore backed by the message table.
type MessageStore struct {
	conn *Connection
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(conn *Connection) *MessageStore {
	return &MessageStore{conn: conn}
}

// Persist stores msg under its id, generating one when it is empty.
func (s *MessageStore) Persist(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = event.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	data := map[string]any{
		"uid":          msg.ID,
		"sender_id":    msg.SenderID,
		"message_type": string(msg.Type),
		"is_read":      msg.Read,
		"created_at":   models.CustomDateTime{Time: msg.CreatedAt},
	}
	if msg.RoomID != "" {
		data["room_id"] = msg.RoomID
	}
	if msg.ReceiverID != "" {
		data["receiver_id"] = msg.ReceiverID
	}
	if msg.Content != "" {
		data["content"] = msg.Content
	}
	if msg.ImageURL != "" {
		data["image_url"] = msg.ImageURL
	}

	row, err := queryOne[messageRow](ctx, s.conn,
		"CREATE type::thing('message', $id) CONTENT $data",
		map[string]any{"id": msg.ID, "data": data})
	if err != nil {
		return domain.Message{}, err
	}
	if row == nil {
		return domain.Message{}, errors.New("create message returned no record")
	}
	return row.toDomain(), nil
}

// History selects the newest page and returns it oldest first.
func (s *MessageStore) History(ctx context.Context, q domain.HistoryQuery) ([]domain.Message, error) {
	q.Normalize()
	params := map[string]any{"limit": q.Limit, "start": q.Offset()}

	where := "room_id = $room"
	if q.RoomID != "" {
		params["room"] = q.RoomID
	} else {
		where = "(sender_id = $user AND receiver_id = $peer) OR (sender_id = $peer AND receiver_id = $user)"
		params["user"] = q.UserID
		params["peer"] = q.PeerID
	}

	rows, err := query[messageRow](ctx, s.conn,
		"SELECT "+messageFields+" FROM message WHERE "+where+
			" ORDER BY created_at DESC, uid DESC LIMIT $limit START $start",
		params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	slices.Reverse(out)
	return out, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, receiverID, senderID string) error {
	return execute(ctx, s.conn,
		"UPDATE message SET is_read = true WHERE receiver_id = $receiver AND sender_id = $sender AND is_read = false",
		map[string]any{"receiver": receiverID, "sender": senderID})
}
