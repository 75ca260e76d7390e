package fanout

import (
	"context"
	"time"

	"github.com/nfrund/chathub/internal/metrics"
)

// pushRoom pushes f to every live session of the room's members except the
// sessions of exclude.
func (e *Engine) pushRoom(ctx context.Context, roomID, exclude string, f Frame) {
	members, err := e.deps.Membership.Members(ctx, roomID)
	if err != nil {
		// The event already stands; recipients recover it from history.
		e.logger.Error("failed to resolve room members for push", "room_id", roomID, "frame", f.Type, "error", err)
		return
	}
	userIDs := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != exclude {
			userIDs = append(userIDs, m.UserID)
		}
	}
	e.pushUsers(f, userIDs...)
}

// pushUsers pushes f once to each live session of the given users. It never
// blocks on a slow session: the handles buffer or drop.
func (e *Engine) pushUsers(f Frame, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	payload, err := f.Encode()
	if err != nil {
		e.logger.Error("failed to encode frame", "frame", f.Type, "error", err)
		return
	}

	seen := make(map[string]struct{})
	for _, userID := range userIDs {
		for _, s := range e.deps.Sessions.Sessions(userID) {
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			if s.Handle.Push(payload) {
				e.deps.Metrics.Pushes.WithLabelValues(f.Type).Inc()
				continue
			}
			e.deps.Metrics.Drops.WithLabelValues(metrics.DropStale).Inc()
			e.logger.Debug("dropped push to closed session", "session_id", s.ID, "user_id", userID, "frame", f.Type)
		}
	}
}

// UserOnline announces the user to every room they belong to.
func (e *Engine) UserOnline(ctx context.Context, userID string) {
	e.announcePresence(ctx, userID, FrameUserJoined)
}

// UserOffline announces the user's departure to every room they belong to.
func (e *Engine) UserOffline(ctx context.Context, userID string) {
	e.announcePresence(ctx, userID, FrameUserLeft)
}

func (e *Engine) announcePresence(ctx context.Context, userID, typ string) {
	rooms, err := e.deps.Membership.RoomsOf(ctx, userID)
	if err != nil {
		e.logger.Warn("failed to resolve rooms for presence", "user_id", userID, "error", err)
		return
	}
	user := UserRef{ID: userID}
	if u, err := e.deps.Users.FindUser(ctx, userID); err == nil {
		user.Username = u.Username
	}
	now := time.Now().UTC()
	for _, roomID := range rooms {
		e.pushRoom(ctx, roomID, userID, Frame{Type: typ, Data: PresencePayload{
			User:      user,
			RoomID:    roomID,
			Timestamp: now,
		}})
	}
}
