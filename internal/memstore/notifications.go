package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
)

// Notifications is an in-memory domain.NotificationStore.
type Notifications struct {
	mu    sync.RWMutex
	byID  map[string]domain.Notification
	order []string // creation order
}

// NewNotifications creates an empty notification store.
func NewNotifications() *Notifications {
	return &Notifications{byID: make(map[string]domain.Notification)}
}

func (s *Notifications) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = event.NewID()
	}
	if existing, ok := s.byID[n.ID]; ok {
		return existing, domain.ErrAlreadyExists
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.byID[n.ID] = n
	s.order = append(s.order, n.ID)
	return n, nil
}

func (s *Notifications) List(ctx context.Context, userID string, page, limit int) (domain.NotificationPage, error) {
	q := domain.HistoryQuery{Page: page, Limit: limit}
	q.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []domain.Notification
	unread := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.byID[s.order[i]]
		if n.UserID != userID {
			continue
		}
		mine = append(mine, n)
		if !n.Read {
			unread++
		}
	}

	start := min(q.Offset(), len(mine))
	end := min(start+q.Limit, len(mine))
	return domain.NotificationPage{
		Items:   append([]domain.Notification{}, mine[start:end]...),
		Page:    q.Page,
		Limit:   q.Limit,
		Total:   len(mine),
		Unread:  unread,
		HasNext: end < len(mine),
		HasPrev: q.Page > 1,
	}, nil
}

func (s *Notifications) MarkRead(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[notificationID]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	n.Read = true
	s.byID[notificationID] = n
	return nil
}

func (s *Notifications) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.byID {
		if n.UserID == userID && !n.Read {
			n.Read = true
			s.byID[id] = n
		}
	}
	return nil
}

func (s *Notifications) Delete(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[notificationID]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	delete(s.byID, notificationID)
	for i, id := range s.order {
		if id == notificationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ForUser returns the user's notifications in creation order.
func (s *Notifications) ForUser(userID string) []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Notification
	for _, id := range s.order {
		if n := s.byID[id]; n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}
