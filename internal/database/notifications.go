package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type notificationRow struct {
	UID       string                 `json:"uid"`
	UserID    string                 `json:"user_id"`
	Type      string                 `json:"type"`
	Data      map[string]any         `json:"data"`
	Read      bool                   `json:"is_read"`
	CreatedAt *models.CustomDateTime `json:"created_at"`
}

func (r notificationRow) toDomain() domain.Notification {
	n := domain.Notification{
		ID:     r.UID,
		UserID: r.UserID,
		Type:   domain.NotificationType(r.Type),
		Read:   r.Read,
	}
	if r.Data != nil {
		n.Data, _ = json.Marshal(r.Data)
	}
	if r.CreatedAt != nil {
		n.CreatedAt = r.CreatedAt.Time
	}
	return n
}

type countRow struct {
	N int `json:"n"`
}

const notificationFields = "uid, user_id, type, data, is_read, created_at"

// NotificationStore is a domain.NotificationStore backed by the notification
// table. The notification id is the record key, which makes Create idempotent.
type NotificationStore struct {
	conn *Connection
}

// NewNotificationStore creates a new NotificationStore.
func NewNotificationStore(conn *Connection) *NotificationStore {
	return &NotificationStore{conn: conn}
}

func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = event.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var data map[string]any
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return domain.Notification{}, err
		}
	}

	row, err := queryOne[notificationRow](ctx, s.conn,
		"CREATE type::thing('notification', $id) CONTENT $data",
		map[string]any{
			"id": n.ID,
			"data": map[string]any{
				"uid":        n.ID,
				"user_id":    n.UserID,
				"type":       string(n.Type),
				"data":       data,
				"is_read":    false,
				"created_at": models.CustomDateTime{Time: n.CreatedAt},
			},
		})
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, ferr := s.find(ctx, n.ID)
		if ferr != nil {
			return domain.Notification{}, ferr
		}
		return existing.toDomain(), domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.Notification{}, err
	}
	if row == nil {
		return domain.Notification{}, errors.New("create notification returned no record")
	}
	return row.toDomain(), nil
}

func (s *NotificationStore) find(ctx context.Context, id string) (*notificationRow, error) {
	row, err := queryOne[notificationRow](ctx, s.conn,
		"SELECT "+notificationFields+" FROM type::thing('notification', $id)",
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row, nil
}

func (s *NotificationStore) count(ctx context.Context, q string, userID string) (int, error) {
	row, err := queryOne[countRow](ctx, s.conn, q, map[string]any{"user": userID})
	if err != nil || row == nil {
		return 0, err
	}
	return row.N, nil
}

// List returns one page of the user's notifications, newest first.
func (s *NotificationStore) List(ctx context.Context, userID string, page, limit int) (domain.NotificationPage, error) {
	q := domain.HistoryQuery{Page: page, Limit: limit}
	q.Normalize()

	rows, err := query[notificationRow](ctx, s.conn,
		"SELECT "+notificationFields+" FROM notification WHERE user_id = $user"+
			" ORDER BY created_at DESC, uid DESC LIMIT $limit START $start",
		map[string]any{"user": userID, "limit": q.Limit, "start": q.Offset()})
	if err != nil {
		return domain.NotificationPage{}, err
	}
	total, err := s.count(ctx, "SELECT count() AS n FROM notification WHERE user_id = $user GROUP ALL", userID)
	if err != nil {
		return domain.NotificationPage{}, err
	}
	unread, err := s.count(ctx, "SELECT count() AS n FROM notification WHERE user_id = $user AND is_read = false GROUP ALL", userID)
	if err != nil {
		return domain.NotificationPage{}, err
	}

	items := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return domain.NotificationPage{
		Items:   items,
		Page:    q.Page,
		Limit:   q.Limit,
		Total:   total,
		Unread:  unread,
		HasNext: q.Offset()+len(items) < total,
		HasPrev: q.Page > 1,
	}, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	rows, err := query[notificationRow](ctx, s.conn,
		"UPDATE type::thing('notification', $id) SET is_read = true WHERE user_id = $user",
		map[string]any{"id": notificationID, "user": userID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	return execute(ctx, s.conn,
		"UPDATE notification SET is_read = true WHERE user_id = $user AND is_read = false",
		map[string]any{"user": userID})
}

func (s *NotificationStore) Delete(ctx context.Context, userID, notificationID string) error {
	rows, err := query[notificationRow](ctx, s.conn,
		"DELETE type::thing('notification', $id) WHERE user_id = $user RETURN BEFORE",
		map[string]any{"id": notificationID, "user": userID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}
