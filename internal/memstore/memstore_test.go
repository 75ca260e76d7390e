package memstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages_HistoryPagesNewestFirstChronologically(t *testing.T) {
	ctx := context.Background()
	store := NewMessages()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.Persist(ctx, domain.Message{
			SenderID:  "a",
			RoomID:    "r1",
			Content:   string(rune('A' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.Persist(ctx, domain.Message{SenderID: "a", RoomID: "other", Content: "x"})
	require.NoError(t, err)

	page1, err := store.History(ctx, domain.HistoryQuery{RoomID: "r1", Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "D", page1[0].Content)
	assert.Equal(t, "E", page1[1].Content)

	page3, err := store.History(ctx, domain.HistoryQuery{RoomID: "r1", Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "A", page3[0].Content)

	empty, err := store.History(ctx, domain.HistoryQuery{RoomID: "r1", Page: 9, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessages_DirectHistoryAndMarkRead(t *testing.T) {
	ctx := context.Background()
	store := NewMessages()

	_, _ = store.Persist(ctx, domain.Message{SenderID: "a", ReceiverID: "b", Content: "hi b"})
	_, _ = store.Persist(ctx, domain.Message{SenderID: "b", ReceiverID: "a", Content: "hi a"})
	_, _ = store.Persist(ctx, domain.Message{SenderID: "a", ReceiverID: "c", Content: "hi c"})

	pair, err := store.History(ctx, domain.HistoryQuery{UserID: "b", PeerID: "a"})
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, "hi b", pair[0].Content)

	require.NoError(t, store.MarkRead(ctx, "b", "a"))
	for _, m := range store.All() {
		assert.Equal(t, m.ReceiverID == "b", m.Read, m.Content)
	}
}

func TestNotifications_CreateIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	store := NewNotifications()

	n := domain.Notification{ID: "evt-1", UserID: "u1", Type: domain.NotifyUserBanned}
	first, err := store.Create(ctx, n)
	require.NoError(t, err)

	again, err := store.Create(ctx, n)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Len(t, store.ForUser("u1"), 1)
}

func TestNotifications_ListMarkDelete(t *testing.T) {
	ctx := context.Background()
	store := NewNotifications()
	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, domain.Notification{UserID: "u1", Type: domain.NotifyRoomInvite})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, domain.Notification{UserID: "u2", Type: domain.NotifyRoomInvite})
	require.NoError(t, err)

	page, err := store.List(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 3, page.Unread)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	require.NoError(t, store.MarkRead(ctx, "u1", page.Items[0].ID))
	assert.ErrorIs(t, store.MarkRead(ctx, "u2", page.Items[0].ID), domain.ErrNotFound)

	page, err = store.List(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Unread)
	assert.True(t, page.HasPrev)
	assert.False(t, page.HasNext)

	require.NoError(t, store.MarkAllRead(ctx, "u1"))
	require.NoError(t, store.Delete(ctx, "u1", page.Items[0].ID))
	page, err = store.List(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 0, page.Unread)
}

func TestUsers_SetOnlineRecordsLastSeen(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(domain.User{ID: "u1", Username: "alice"})
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, users.SetOnline(ctx, "u1", true, at))
	u, err := users.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Online)
	assert.Equal(t, domain.RoleUser, u.Role)

	require.NoError(t, users.SetOnline(ctx, "u1", false, at))
	u, _ = users.FindUser(ctx, "u1")
	assert.False(t, u.Online)
	require.NotNil(t, u.LastSeen)
	assert.Equal(t, at, *u.LastSeen)

	_, err = users.FindUser(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - id: u1
    username: alice
    role: ADMIN
  - id: u2
    username: bob
rooms:
  - id: general
    name: General
    members:
      - user: u1
      - user: u2
  - id: secret
    name: Secret
    private: true
    members:
      - user: u2
`), 0o600))

	users := NewUsers()
	rooms := NewRooms()
	require.NoError(t, LoadSeed(path, users, rooms))

	ctx := context.Background()
	alice, err := users.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, alice.Role)

	members, err := rooms.Members(ctx, "general")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].UserID)
	assert.Equal(t, domain.RoomRoleAdmin, members[0].Role)
	assert.Equal(t, domain.RoomRoleMember, members[1].Role)

	secret, err := rooms.FindRoom(ctx, "secret")
	require.NoError(t, err)
	assert.True(t, secret.Private)

	roomsOfBob, err := rooms.RoomsOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"general", "secret"}, roomsOfBob)
}
