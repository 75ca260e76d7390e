package database

import (
	"context"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type roomRow struct {
	UID       string                 `json:"uid"`
	Name      string                 `json:"name"`
	Private   bool                   `json:"is_private"`
	State     string                 `json:"state"`
	CreatedBy string                 `json:"created_by"`
	CreatedAt *models.CustomDateTime `json:"created_at"`
}

type memberRow struct {
	RoomID   string                 `json:"room_id"`
	UserID   string                 `json:"user_id"`
	Role     string                 `json:"role"`
	JoinedAt *models.CustomDateTime `json:"joined_at"`
}

func (r memberRow) toDomain() domain.Member {
	m := domain.Member{RoomID: r.RoomID, UserID: r.UserID, Role: domain.RoomRole(r.Role)}
	if r.JoinedAt != nil {
		m.JoinedAt = r.JoinedAt.Time
	}
	return m
}

const memberFields = "room_id, user_id, role, joined_at"

// RoomStore is a domain.MembershipStore backed by the room and room_member
// tables. A membership's record key is [room_id, user_id].
type RoomStore struct {
	conn *Connection
}

// NewRoomStore creates a new RoomStore.
func NewRoomStore(conn *Connection) *RoomStore {
	return &RoomStore{conn: conn}
}

// CreateRoom stores room with creator as its first admin.
func (s *RoomStore) CreateRoom(ctx context.Context, room domain.Room, creator string) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	created := models.CustomDateTime{Time: room.CreatedAt}
	return execute(ctx, s.conn, `
BEGIN TRANSACTION;
CREATE type::thing('room', $room) CONTENT $data;
CREATE type::thing('room_member', [$room, $creator]) CONTENT $member;
COMMIT TRANSACTION;`,
		map[string]any{
			"room":    room.ID,
			"creator": creator,
			"data": map[string]any{
				"uid":        room.ID,
				"name":       room.Name,
				"is_private": room.Private,
				"state":      string(domain.RoomActive),
				"created_by": creator,
				"created_at": created,
			},
			"member": map[string]any{
				"room_id":   room.ID,
				"user_id":   creator,
				"role":      string(domain.RoomRoleAdmin),
				"joined_at": created,
			},
		})
}

func (s *RoomStore) FindRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	row, err := queryOne[roomRow](ctx, s.conn,
		"SELECT uid, name, is_private, state, created_by, created_at FROM type::thing('room', $room)",
		map[string]any{"room": roomID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrRoomNotFound
	}
	room := &domain.Room{
		ID:        row.UID,
		Name:      row.Name,
		Private:   row.Private,
		State:     domain.RoomState(row.State),
		CreatedBy: row.CreatedBy,
	}
	if row.CreatedAt != nil {
		room.CreatedAt = row.CreatedAt.Time
	}
	return room, nil
}

func (s *RoomStore) membership(ctx context.Context, userID, roomID string) (*memberRow, error) {
	return queryOne[memberRow](ctx, s.conn,
		"SELECT "+memberFields+" FROM type::thing('room_member', [$room, $user])",
		map[string]any{"room": roomID, "user": userID})
}

func (s *RoomStore) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	row, err := s.membership(ctx, userID, roomID)
	return row != nil, err
}

func (s *RoomStore) Role(ctx context.Context, userID, roomID string) (domain.RoomRole, error) {
	row, err := s.membership(ctx, userID, roomID)
	if err != nil || row == nil {
		return "", err
	}
	return domain.RoomRole(row.Role), nil
}

func (s *RoomStore) Members(ctx context.Context, roomID string) ([]domain.Member, error) {
	rows, err := query[memberRow](ctx, s.conn,
		"SELECT "+memberFields+" FROM room_member WHERE room_id = $room ORDER BY joined_at ASC",
		map[string]any{"room": roomID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *RoomStore) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := query[memberRow](ctx, s.conn,
		"SELECT "+memberFields+" FROM room_member WHERE user_id = $user ORDER BY room_id ASC",
		map[string]any{"user": userID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.RoomID)
	}
	return out, nil
}

// AddMember returns domain.ErrRoomNotFound for a missing or deleted room and
// domain.ErrAlreadyExists when the user is already a member.
func (s *RoomStore) AddMember(ctx context.Context, m domain.Member) error {
	room, err := s.FindRoom(ctx, m.RoomID)
	if err != nil {
		return err
	}
	if room.State == domain.RoomDeleted {
		return domain.ErrRoomNotFound
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	return execute(ctx, s.conn,
		"CREATE type::thing('room_member', [$room, $user]) CONTENT $data",
		map[string]any{
			"room": m.RoomID,
			"user": m.UserID,
			"data": map[string]any{
				"room_id":   m.RoomID,
				"user_id":   m.UserID,
				"role":      string(m.Role),
				"joined_at": models.CustomDateTime{Time: m.JoinedAt},
			},
		})
}

func (s *RoomStore) RemoveMember(ctx context.Context, userID, roomID string) error {
	rows, err := query[memberRow](ctx, s.conn,
		"DELETE type::thing('room_member', [$room, $user]) RETURN BEFORE",
		map[string]any{"room": roomID, "user": userID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RoomStore) Promote(ctx context.Context, userID, roomID string) error {
	rows, err := query[memberRow](ctx, s.conn,
		"UPDATE type::thing('room_member', [$room, $user]) SET role = $role",
		map[string]any{"room": roomID, "user": userID, "role": string(domain.RoomRoleAdmin)})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRoom marks the room deleted and drops its memberships.
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.FindRoom(ctx, roomID); err != nil {
		return err
	}
	return execute(ctx, s.conn, `
BEGIN TRANSACTION;
UPDATE type::thing('room', $room) SET state = $state;
DELETE room_member WHERE room_id = $room;
COMMIT TRANSACTION;`,
		map[string]any{"room": roomID, "state": string(domain.RoomDeleted)})
}
