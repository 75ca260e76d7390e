package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
)

// Messages is an in-memory domain.MessageStore.
type Messages struct {
	mu   sync.RWMutex
	msgs []domain.Message // in persist order
	// fail, when set, is returned by Persist.
	fail error
}

// NewMessages creates an empty message store.
func NewMessages() *Messages {
	return &Messages{}
}

// FailWith makes subsequent Persist calls return err. Pass nil to recover.
func (m *Messages) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Messages) Persist(ctx context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return domain.Message{}, m.fail
	}
	if msg.ID == "" {
		msg.ID = event.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *Messages) matches(msg domain.Message, q domain.HistoryQuery) bool {
	if q.RoomID != "" {
		return msg.RoomID == q.RoomID
	}
	return (msg.SenderID == q.UserID && msg.ReceiverID == q.PeerID) ||
		(msg.SenderID == q.PeerID && msg.ReceiverID == q.UserID)
}

// History pages newest first and returns each page in chronological order.
func (m *Messages) History(ctx context.Context, q domain.HistoryQuery) ([]domain.Message, error) {
	q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newestFirst []domain.Message
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.matches(m.msgs[i], q) {
			newestFirst = append(newestFirst, m.msgs[i])
		}
	}

	start := q.Offset()
	if start >= len(newestFirst) {
		return []domain.Message{}, nil
	}
	end := min(start+q.Limit, len(newestFirst))
	page := newestFirst[start:end]

	out := make([]domain.Message, len(page))
	for i, msg := range page {
		out[len(page)-1-i] = msg
	}
	return out, nil
}

func (m *Messages) MarkRead(ctx context.Context, receiverID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.msgs {
		if m.msgs[i].ReceiverID == receiverID && m.msgs[i].SenderID == senderID {
			m.msgs[i].Read = true
		}
	}
	return nil
}

// All returns every stored message in persist order.
func (m *Messages) All() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.msgs...)
}
