package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRooms(t *testing.T) *memstore.Rooms {
	t.Helper()
	rooms := memstore.NewRooms()
	require.NoError(t, rooms.CreateRoom(domain.Room{ID: "r1", Name: "General"}, "a"))
	require.NoError(t, rooms.CreateRoom(domain.Room{ID: "vip", Name: "VIP", Private: true}, "a"))
	return rooms
}

func TestService_JoinPublicRoom(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	svc := NewService(rooms, nil)

	joined, err := svc.Join(ctx, "b", "r1")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = svc.Join(ctx, "b", "r1")
	require.NoError(t, err)
	assert.False(t, joined, "second join is a no-op")

	role, err := rooms.Role(ctx, "b", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomRoleMember, role)
}

func TestService_JoinErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newRooms(t), nil)

	_, err := svc.Join(ctx, "b", "vip")
	assert.ErrorIs(t, err, domain.ErrRoomPrivate)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Join(ctx, "b", "nowhere")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	joined, err := svc.Join(ctx, "a", "vip")
	require.NoError(t, err, "members may re-enter a private room")
	assert.False(t, joined)
}

func TestService_LeaveLastAdminPromotes(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	svc := NewService(rooms, nil)
	_, err := svc.Join(ctx, "b", "r1")
	require.NoError(t, err)

	tr, err := svc.Leave(ctx, "a", "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", tr.Promote)
	assert.Equal(t, OutcomeLeft, tr.Outcome)

	role, _ := rooms.Role(ctx, "b", "r1")
	assert.Equal(t, domain.RoomRoleAdmin, role)
	isMember, _ := rooms.IsMember(ctx, "a", "r1")
	assert.False(t, isMember)

	room, err := rooms.FindRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomActive, room.State)
}

func TestService_LeaveSoleMemberDeletes(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	svc := NewService(rooms, nil)

	tr, err := svc.Leave(ctx, "a", "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, tr.Outcome)

	room, err := rooms.FindRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomDeleted, room.State)

	_, err = svc.Join(ctx, "b", "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound, "a deleted room cannot be joined")
}

func TestService_JoinAndLeaveRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		rooms := newRooms(t)
		svc := NewService(rooms, nil)

		var wg sync.WaitGroup
		var joinErr error
		var tr Transition
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = svc.Join(ctx, "b", "r1")
		}()
		go func() {
			defer wg.Done()
			var err error
			tr, err = svc.Leave(ctx, "a", "r1")
			assert.NoError(t, err)
		}()
		wg.Wait()

		members, err := rooms.Members(ctx, "r1")
		require.NoError(t, err)
		room, err := rooms.FindRoom(ctx, "r1")
		require.NoError(t, err)

		if tr.Delete {
			// Leave won: the join must have been refused and nobody is left behind.
			assert.ErrorIs(t, joinErr, domain.ErrRoomNotFound)
			assert.Equal(t, domain.RoomDeleted, room.State)
			assert.Empty(t, members)
		} else {
			// Join won: b was promoted instead of the room being deleted.
			require.NoError(t, joinErr)
			assert.Equal(t, "b", tr.Promote)
			require.Len(t, members, 1)
			assert.Equal(t, domain.RoomRoleAdmin, members[0].Role)
		}
	}
}

type countingStore struct {
	*memstore.Rooms
	mu    sync.Mutex
	calls int
	fail  error
}

func (s *countingStore) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if fail != nil {
		return false, fail
	}
	return s.Rooms.IsMember(ctx, userID, roomID)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMembershipCache_ServesFromCacheUntilTTL(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Rooms: newRooms(t)}
	cache := NewMembershipCache(store, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	ok, err := cache.IsMember(ctx, "a", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, _ = cache.IsMember(ctx, "a", "r1")
	assert.Equal(t, 1, store.count())

	now = now.Add(2 * time.Minute)
	_, _ = cache.IsMember(ctx, "a", "r1")
	assert.Equal(t, 2, store.count(), "expired entries are refetched")
}

func TestMembershipCache_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Rooms: newRooms(t)}
	cache := NewMembershipCache(store, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.IsMember(ctx, "a", "r1")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Less(t, store.count(), 20)
}

func TestMembershipCache_InvalidatedByServiceWrites(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	cache := NewMembershipCache(rooms, time.Hour)
	svc := NewService(rooms, cache)

	ok, err := cache.IsMember(ctx, "b", "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Join(ctx, "b", "r1")
	require.NoError(t, err)

	ok, err = cache.IsMember(ctx, "b", "r1")
	require.NoError(t, err)
	assert.True(t, ok, "join invalidates the cached answer")

	members, err := cache.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMembershipCache_WrapsStoreFailures(t *testing.T) {
	store := &countingStore{Rooms: newRooms(t), fail: errors.New("connection refused")}
	cache := NewMembershipCache(store, time.Minute)

	_, err := cache.IsMember(context.Background(), "a", "r1")
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

// failingWrites refuses the named write on top of an in-memory store.
type failingWrites struct {
	*memstore.Rooms
	promote error
	delete  error
}

func (s *failingWrites) Promote(ctx context.Context, userID, roomID string) error {
	if s.promote != nil {
		return s.promote
	}
	return s.Rooms.Promote(ctx, userID, roomID)
}

func (s *failingWrites) DeleteRoom(ctx context.Context, roomID string) error {
	if s.delete != nil {
		return s.delete
	}
	return s.Rooms.DeleteRoom(ctx, roomID)
}

func TestService_FailedPromotionKeepsLeaver(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	svc := NewService(rooms, nil)
	_, err := svc.Join(ctx, "b", "r1")
	require.NoError(t, err)

	failing := NewService(&failingWrites{Rooms: rooms, promote: errors.New("connection refused")}, nil)
	_, err = failing.Leave(ctx, "a", "r1")
	require.ErrorIs(t, err, domain.ErrPersistence)

	members, err := rooms.Members(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].UserID)
	assert.Equal(t, domain.RoomRoleAdmin, members[0].Role)
	assert.Equal(t, domain.RoomRoleMember, members[1].Role)
}

func TestService_FailedDeleteKeepsSoleMember(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms(t)
	svc := NewService(&failingWrites{Rooms: rooms, delete: errors.New("connection refused")}, nil)

	_, err := svc.Leave(ctx, "a", "r1")
	require.ErrorIs(t, err, domain.ErrPersistence)

	isMember, err := rooms.IsMember(ctx, "a", "r1")
	require.NoError(t, err)
	assert.True(t, isMember)
	room, err := rooms.FindRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomActive, room.State)
}

// gatedStore holds IsMember until released or until its ctx ends.
type gatedStore struct {
	*memstore.Rooms
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return s.Rooms.IsMember(ctx, userID, roomID)
}

func TestMembershipCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &gatedStore{Rooms: newRooms(t), entered: make(chan struct{}, 1), release: make(chan struct{})}
	cache := NewMembershipCache(store, time.Minute)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.IsMember(first, "a", "r1")
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		ok  bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := cache.IsMember(context.Background(), "a", "r1")
		second <- result{ok, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.True(t, r.ok)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got an answer")
	}
}
