package domain

import (
	"context"
	"time"
)

// RoomRole is a user's role inside one room.
type RoomRole string

const (
	RoomRoleMember RoomRole = "MEMBER"
	RoomRoleAdmin  RoomRole = "ADMIN"
)

// RoomState is the lifecycle state of a room. DELETED is terminal.
type RoomState string

const (
	RoomActive  RoomState = "ACTIVE"
	RoomDeleted RoomState = "DELETED"
)

// Room is the membership-relevant view of a chat room.
type Room struct {
	ID        string    `json:"room_id"`
	Name      string    `json:"name"`
	Private   bool      `json:"is_private"`
	State     RoomState `json:"state"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is one RoomMembership row.
type Member struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Role     RoomRole  `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// MembershipStore is the external membership collaborator. The fan-out engine
// only reads through it; the room service performs the join and leave writes.
type MembershipStore interface {
	// FindRoom returns ErrRoomNotFound when no such room exists.
	FindRoom(ctx context.Context, roomID string) (*Room, error)
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	// Role returns an empty RoomRole when the user is not a member.
	Role(ctx context.Context, userID, roomID string) (RoomRole, error)
	// Members returns the room's members ordered by JoinedAt, earliest first.
	Members(ctx context.Context, roomID string) ([]Member, error)
	// RoomsOf returns the ids of the rooms the user belongs to.
	RoomsOf(ctx context.Context, userID string) ([]string, error)
	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, userID, roomID string) error
	Promote(ctx context.Context, userID, roomID string) error
	DeleteRoom(ctx context.Context, roomID string) error
}
