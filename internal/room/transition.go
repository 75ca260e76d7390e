// Package room owns the membership transitions that interact with delivery:
// joining, leaving, last-admin promotion and deletion of empty rooms.
package room

import (
	"fmt"
	"sort"

	"github.com/nfrund/chathub/internal/domain"
)

// Outcome names the result of a leave.
type Outcome string

const (
	OutcomeLeft    Outcome = "left_room"
	OutcomeDeleted Outcome = "room_deleted"
)

// Snapshot is the state a leave is decided on: the room and its members in
// join order.
type Snapshot struct {
	Room    domain.Room
	Members []domain.Member
}

// Transition is the result of applying a leave to a Snapshot: the room's next
// state and the side effects the caller must carry out, in order.
type Transition struct {
	State   domain.RoomState
	Outcome Outcome
	// Remove is the member whose row is deleted.
	Remove string
	// Promote is the member raised to admin, if any.
	Promote string
	// Delete reports that the room itself is removed.
	Delete bool
}

// Leave computes what happens when userID leaves the room in s.
//
// When the leaving user is the only admin and other members remain, the
// earliest-joined remaining member is promoted. When nobody remains the room
// is deleted. Ties on JoinedAt keep the snapshot order.
func Leave(s Snapshot, userID string) (Transition, error) {
	if s.Room.State == domain.RoomDeleted {
		return Transition{}, domain.ErrRoomNotFound
	}

	members := append([]domain.Member(nil), s.Members...)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	s.Members = members

	var leaving *domain.Member
	admins := 0
	for i := range s.Members {
		m := &s.Members[i]
		if m.UserID == userID {
			leaving = m
		}
		if m.Role == domain.RoomRoleAdmin {
			admins++
		}
	}
	if leaving == nil {
		return Transition{}, domain.ErrNotMember
	}

	t := Transition{
		State:   domain.RoomActive,
		Outcome: OutcomeLeft,
		Remove:  userID,
	}

	if len(s.Members) == 1 {
		t.State = domain.RoomDeleted
		t.Outcome = OutcomeDeleted
		t.Delete = true
		return t, nil
	}

	if leaving.Role == domain.RoomRoleAdmin && admins == 1 {
		for _, m := range s.Members {
			if m.UserID != userID {
				t.Promote = m.UserID
				break
			}
		}
		if t.Promote == "" {
			return Transition{}, fmt.Errorf("room %s: no promotion candidate among %d members", s.Room.ID, len(s.Members))
		}
	}
	return t, nil
}
