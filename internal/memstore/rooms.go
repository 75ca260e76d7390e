package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
)

// Rooms is an in-memory domain.MembershipStore.
type Rooms struct {
	mu      sync.RWMutex
	rooms   map[string]domain.Room
	members map[string][]domain.Member // roomID -> members by JoinedAt
}

// NewRooms creates an empty membership store.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:   make(map[string]domain.Room),
		members: make(map[string][]domain.Member),
	}
}

// CreateRoom stores room and makes creator its admin.
func (r *Rooms) CreateRoom(room domain.Room, creator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if room.State == "" {
		room.State = domain.RoomActive
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	room.CreatedBy = creator
	r.rooms[room.ID] = room
	r.members[room.ID] = []domain.Member{{
		RoomID:   room.ID,
		UserID:   creator,
		Role:     domain.RoomRoleAdmin,
		JoinedAt: room.CreatedAt,
	}}
	return nil
}

func (r *Rooms) FindRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (r *Rooms) find(userID, roomID string) int {
	for i, m := range r.members[roomID] {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Rooms) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find(userID, roomID) >= 0, nil
}

func (r *Rooms) Role(ctx context.Context, userID, roomID string) (domain.RoomRole, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.find(userID, roomID); i >= 0 {
		return r.members[roomID][i].Role, nil
	}
	return "", nil
}

func (r *Rooms) Members(ctx context.Context, roomID string) ([]domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Member(nil), r.members[roomID]...), nil
}

func (r *Rooms) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for roomID := range r.members {
		if r.find(userID, roomID) >= 0 {
			out = append(out, roomID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Rooms) AddMember(ctx context.Context, m domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[m.RoomID]
	if !ok || room.State == domain.RoomDeleted {
		return domain.ErrRoomNotFound
	}
	if r.find(m.UserID, m.RoomID) >= 0 {
		return domain.ErrAlreadyExists
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	members := append(r.members[m.RoomID], m)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	r.members[m.RoomID] = members
	return nil
}

func (r *Rooms) RemoveMember(ctx context.Context, userID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.find(userID, roomID)
	if i < 0 {
		return domain.ErrNotFound
	}
	members := r.members[roomID]
	r.members[roomID] = append(members[:i:i], members[i+1:]...)
	return nil
}

func (r *Rooms) Promote(ctx context.Context, userID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.find(userID, roomID)
	if i < 0 {
		return domain.ErrNotFound
	}
	r.members[roomID][i].Role = domain.RoomRoleAdmin
	return nil
}

func (r *Rooms) DeleteRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.State = domain.RoomDeleted
	r.rooms[roomID] = room
	delete(r.members, roomID)
	return nil
}
