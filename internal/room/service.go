package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/keylock"
)

// Service performs joins and leaves. Both run under a per-room lock, so a join
// never lands in a room that a concurrent leave is deleting, and a leave never
// decides on a member list a concurrent join is changing.
type Service struct {
	store  domain.MembershipStore
	cache  *MembershipCache
	locks  *keylock.Map
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a room service. Writes go to store; cache, when non-nil,
// is invalidated after every write.
func NewService(store domain.MembershipStore, cache *MembershipCache) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		locks:  keylock.New(),
		now:    time.Now,
		logger: slog.Default().With("component", "room"),
	}
}

func (s *Service) invalidate(roomID string, userIDs ...string) {
	if s.cache != nil {
		s.cache.Invalidate(roomID, userIDs...)
	}
}

// Join makes userID a member of roomID. It reports false when the user already
// was a member. Private rooms can only be entered by existing members.
func (s *Service) Join(ctx context.Context, userID, roomID string) (bool, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return false, domain.NewPersistenceError("find room", err)
	}
	if room.State == domain.RoomDeleted {
		return false, domain.ErrRoomNotFound
	}

	member, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return false, domain.NewPersistenceError("is member", err)
	}
	if member {
		return false, nil
	}
	if room.Private {
		return false, domain.ErrRoomPrivate
	}

	err = s.store.AddMember(ctx, domain.Member{
		RoomID:   roomID,
		UserID:   userID,
		Role:     domain.RoomRoleMember,
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return false, domain.NewPersistenceError("add member", err)
	}
	s.invalidate(roomID, userID)
	return true, nil
}

// Leave removes userID from roomID, promoting or deleting as decided by the
// Leave transition, and returns the transition that was applied.
func (s *Service) Leave(ctx context.Context, userID, roomID string) (Transition, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return Transition{}, domain.NewPersistenceError("find room", err)
	}
	members, err := s.store.Members(ctx, roomID)
	if err != nil {
		return Transition{}, domain.NewPersistenceError("members", err)
	}

	t, err := Leave(Snapshot{Room: *room, Members: members}, userID)
	if err != nil {
		return Transition{}, err
	}

	if err := s.store.RemoveMember(ctx, t.Remove, roomID); err != nil {
		return Transition{}, domain.NewPersistenceError("remove member", err)
	}
	if t.Promote != "" {
		if err := s.store.Promote(ctx, t.Promote, roomID); err != nil {
			// Put the leaver back so the room is not left without an admin.
			s.restore(ctx, members, t.Remove)
			return Transition{}, domain.NewPersistenceError("promote", err)
		}
		s.logger.Info("promoted member after last admin left",
			"room_id", roomID, "left", userID, "promoted", t.Promote)
	}
	if t.Delete {
		if err := s.store.DeleteRoom(ctx, roomID); err != nil {
			s.restore(ctx, members, t.Remove)
			return Transition{}, domain.NewPersistenceError("delete room", err)
		}
		s.logger.Info("deleted empty room", "room_id", roomID, "last_member", userID)
	}

	affected := make([]string, 0, len(members))
	for _, m := range members {
		affected = append(affected, m.UserID)
	}
	s.invalidate(roomID, affected...)
	return t, nil
}

func (s *Service) restore(ctx context.Context, members []domain.Member, userID string) {
	for _, m := range members {
		if m.UserID != userID {
			continue
		}
		if err := s.store.AddMember(ctx, m); err != nil {
			s.logger.Error("failed to restore member after aborted leave",
				"room_id", m.RoomID, "user_id", userID, "error", err)
		}
		s.invalidate(m.RoomID, userID)
		return
	}
}
