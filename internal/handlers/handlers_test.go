package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/handlers"
	"github.com/nfrund/chathub/internal/memstore"
	"github.com/nfrund/chathub/internal/middleware"
	"github.com/nfrund/chathub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAcceptor struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (a *recordingAcceptor) Accept(ctx context.Context, sender domain.Identity, ev event.Event) (fanout.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return fanout.Result{}, a.err
	}
	ev.ID = "evt-1"
	ev.SenderID = sender.UserID
	a.events = append(a.events, ev)
	return fanout.Result{Event: ev}, nil
}

type staticPresence struct{ online map[string]bool }

func (p staticPresence) IsOnline(userID string) bool { return p.online[userID] }
func (p staticPresence) Count() int                  { return 3 }
func (p staticPresence) OnlineUsers() int            { return len(p.online) }

type fixture struct {
	e             *echo.Echo
	users         *memstore.Users
	rooms         *memstore.Rooms
	messages      *memstore.Messages
	notifications *memstore.Notifications
	engine        *recordingAcceptor
}

// asUser stands in for the Auth middleware: the caller is named by X-User.
func asUser(users *memstore.Users) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := users.FindUser(c.Request().Context(), c.Request().Header.Get("X-User"))
			if err != nil {
				return c.NoContent(http.StatusUnauthorized)
			}
			c.Set(middleware.IdentityContextKey, u.Identity())
			return next(c)
		}
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users: memstore.NewUsers(
			testutils.NewUser("alice", "Alice"),
			testutils.NewUser("bob", "Bob"),
			testutils.NewUser("carol", "Carol"),
			testutils.NewAdmin("root", "Root"),
		),
		rooms:         memstore.NewRooms(),
		messages:      memstore.NewMessages(),
		notifications: memstore.NewNotifications(),
		engine:        &recordingAcceptor{},
	}
	require.NoError(t, f.rooms.CreateRoom(domain.Room{ID: "r1", Name: "General"}, "alice"))
	require.NoError(t, f.rooms.AddMember(context.Background(), domain.Member{RoomID: "r1", UserID: "bob", Role: domain.RoomRoleMember}))

	e := echo.New()
	e.Validator = handlers.NewValidator()
	history := handlers.NewHistoryHandler(f.rooms, f.messages, f.users)
	notes := handlers.NewNotificationHandler(f.notifications, f.engine)
	presence := handlers.NewPresenceHandler(staticPresence{online: map[string]bool{"bob": true}}, f.users)

	api := e.Group("/api", asUser(f.users))
	api.GET("/rooms/:roomId/messages", history.RoomHistory)
	api.GET("/direct/:userId/messages", history.DirectHistory)
	api.GET("/notifications", notes.List)
	api.GET("/notifications/unread-count", notes.UnreadCount)
	api.PUT("/notifications/read-all", notes.MarkAllRead)
	api.PUT("/notifications/:id/read", notes.MarkRead)
	api.DELETE("/notifications/:id", notes.Delete)
	api.GET("/presence", presence.GetPresence)
	api.GET("/users/:userId/presence", presence.GetUserPresence)
	api.POST("/admin/notifications", notes.AdminCreate, middleware.RequireRole(domain.RoleAdmin))
	f.e = e
	return f
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User", user)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRoomHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := f.messages.Persist(ctx, domain.Message{
			SenderID: "alice", RoomID: "r1", Content: string(rune('a' + i)), Type: domain.MessageText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	t.Run("member reads newest page in order", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/rooms/r1/messages?limit=2", "bob", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[handlers.HistoryResponse](t, rec)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, "d", resp.Messages[0].Content)
		assert.Equal(t, "e", resp.Messages[1].Content)
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 2, resp.Limit)
	})

	t.Run("limit is capped and defaulted", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/rooms/r1/messages?limit=500", "bob", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.MaxHistoryLimit, decode[handlers.HistoryResponse](t, rec).Limit)

		rec = f.do(t, http.MethodGet, "/api/rooms/r1/messages", "bob", "")
		assert.Equal(t, domain.DefaultHistoryLimit, decode[handlers.HistoryResponse](t, rec).Limit)
	})

	t.Run("non-member is refused", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/rooms/r1/messages", "carol", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, fanout.CodeNotInRoom, decode[handlers.ErrorResponse](t, rec).Code)
	})

	t.Run("bad paging", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/rooms/r1/messages?page=-1", "bob", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDirectHistoryMarksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.messages.Persist(ctx, domain.Message{SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: domain.MessageText})
	require.NoError(t, err)
	_, err = f.messages.Persist(ctx, domain.Message{SenderID: "bob", ReceiverID: "alice", Content: "hey", Type: domain.MessageText})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/direct/alice/messages", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.HistoryResponse](t, rec)
	require.Len(t, resp.Messages, 2)
	assert.True(t, resp.Messages[0].Read)
	assert.False(t, resp.Messages[1].Read)

	for _, m := range f.messages.All() {
		if m.ReceiverID == "bob" {
			assert.True(t, m.Read)
		} else {
			assert.False(t, m.Read)
		}
	}

	rec = f.do(t, http.MethodGet, "/api/direct/nobody/messages", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2", "n3"} {
		_, err := f.notifications.Create(ctx, domain.Notification{
			ID: id, UserID: "bob", Type: domain.NotifyMessageReceived,
			Data: json.RawMessage(`{"senderName":"Alice","senderId":"alice"}`),
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/notifications?limit=2", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[handlers.NotificationListResponse](t, rec)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 3, list.Unread)
	assert.True(t, list.HasNext)
	assert.False(t, list.HasPrev)
	require.Len(t, list.Notifications, 2)
	assert.Equal(t, "n3", list.Notifications[0].ID)
	assert.Equal(t, "You have a new message from Alice", list.Notifications[0].Message)
	assert.Equal(t, "/chat/alice", list.Notifications[0].Action)

	rec = f.do(t, http.MethodPut, "/api/notifications/n1/read", "bob", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/notifications/n1/read", "carol", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications/unread-count", "bob", "")
	assert.Equal(t, map[string]int{"unread": 2}, decode[map[string]int](t, rec))

	rec = f.do(t, http.MethodPut, "/api/notifications/read-all", "bob", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/notifications/unread-count", "bob", "")
	assert.Equal(t, map[string]int{"unread": 0}, decode[map[string]int](t, rec))

	rec = f.do(t, http.MethodDelete, "/api/notifications/n2", "bob", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/notifications/n2", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, f.notifications.ForUser("bob"), 2)
}

func TestAdminCreateNotification(t *testing.T) {
	f := newFixture(t)

	body := `{"user_id":"bob","type":"USER_BANNED","data":{"reason":"spam"}}`
	rec := f.do(t, http.MethodPost, "/api/admin/notifications", "root", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]string{"event_id": "evt-1"}, decode[map[string]string](t, rec))

	require.Len(t, f.engine.events, 1)
	ev := f.engine.events[0]
	assert.Equal(t, event.Notification, ev.Kind)
	assert.Equal(t, "root", ev.SenderID)
	assert.Equal(t, domain.NotifyUserBanned, ev.Notice.Type)
	assert.JSONEq(t, `{"reason":"spam"}`, string(ev.Notice.Data))

	rec = f.do(t, http.MethodPost, "/api/admin/notifications", "alice", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/notifications", "root", `{"user_id":"bob","type":"PARTY"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[handlers.ErrorResponse](t, rec).Message, "type must be one of [MESSAGE_RECEIVED")

	rec = f.do(t, http.MethodPost, "/api/admin/notifications", "root", `{"type":"USER_BANNED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id is required", decode[handlers.ErrorResponse](t, rec).Message)

	f.engine.err = errors.New("broker exploded")
	rec = f.do(t, http.MethodPost, "/api/admin/notifications", "root", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[handlers.ErrorResponse](t, rec).Message)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/presence", "alice", "")
	assert.Equal(t, map[string]int{"sessions": 3, "online_users": 1}, decode[map[string]int](t, rec))

	rec = f.do(t, http.MethodGet, "/api/users/bob/presence", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[handlers.UserPresence](t, rec)
	assert.True(t, p.Online)
	assert.Equal(t, "Bob", p.Username)

	rec = f.do(t, http.MethodGet, "/api/users/carol/presence", "alice", "")
	assert.False(t, decode[handlers.UserPresence](t, rec).Online)

	rec = f.do(t, http.MethodGet, "/api/users/ghost/presence", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	failing := false
	h := handlers.NewHealthHandler(map[string]handlers.Check{
		"store": func(ctx context.Context) error {
			if failing {
				return errors.New("down")
			}
			return nil
		},
	})
	e.GET("/health", h.Live)
	e.GET("/ready", h.Ready)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/ready").Code)

	failing = true
	rec := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"down"`)
}
