package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/chathub/internal/app"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/server"
	"github.com/nfrund/chathub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
users:
  - {id: alice, username: alice}
  - {id: bob, username: bob}
  - {id: carol, username: carol}
  - {id: root, username: root, role: ADMIN}
rooms:
  - id: lobby
    name: Lobby
    members:
      - {user: alice}
      - {user: bob}
`

type harness struct {
	s   *server.Server
	srv *httptest.Server
}

// setupIntegrationTest builds a full in-memory instance with its queue
// consumers running and serves it from an httptest server.
func setupIntegrationTest(t *testing.T) *harness {
	t.Helper()

	cfg := testutils.ConfigForTests(t)
	cfg.Store.SeedFile = filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(cfg.Store.SeedFile, []byte(seed), 0o600))
	cfg.APIRateLimit = 1000
	cfg.APIRateBurst = 1000

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	s := server.New(a)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Engine.DeclareQueues(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Engine.Run(ctx)
	}()

	srv := httptest.NewServer(s.E)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = a.Close(context.Background())
	})
	return &harness{s: s, srv: srv}
}

func (h *harness) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, _, err := h.s.App.Auth.Issue(domain.Identity{UserID: userID, Username: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (h *harness) request(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + h.token(t, userID, domain.RoleUser)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

// readUntil reads frames until one of type typ arrives, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) testutils.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", typ)
		var f testutils.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

func TestServer_HealthEndpoints(t *testing.T) {
	h := setupIntegrationTest(t)

	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/health", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/ready", "", nil).StatusCode)

	resp := h.request(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chathub_sessions_live")
}

func TestServer_APIRequiresToken(t *testing.T) {
	h := setupIntegrationTest(t)

	assert.Equal(t, http.StatusUnauthorized, h.request(t, http.MethodGet, "/api/presence", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, h.request(t, http.MethodGet, "/api/presence", "garbage", nil).StatusCode)
	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/api/presence", h.token(t, "alice", domain.RoleUser), nil).StatusCode)
}

func TestServer_WebsocketRequiresToken(t *testing.T) {
	h := setupIntegrationTest(t)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RoomMessageFanOut(t *testing.T) {
	h := setupIntegrationTest(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.Eventually(t, func() bool {
		return h.s.App.Sessions.IsOnline("alice") && h.s.App.Sessions.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"send_room_message","data":{"room_id":"lobby","content":"hello lobby"}}`)))

	f := readUntil(t, bob, fanout.FrameRoomMessage)
	assert.Equal(t, "hello lobby", f.Field("content"))
	assert.Equal(t, "alice", f.Field("sender_id"))

	resp := h.request(t, http.MethodGet, "/api/rooms/lobby/messages", h.token(t, "bob", domain.RoleUser), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello lobby", history.Messages[0].Content)

	resp = h.request(t, http.MethodGet, "/api/rooms/lobby/messages", h.token(t, "carol", domain.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_OfflineDirectMessageNotifies(t *testing.T) {
	h := setupIntegrationTest(t)
	alice := h.dial(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"send_direct_message","data":{"receiver_id":"carol","content":"are you there?"}}`)))

	carol := h.token(t, "carol", domain.RoleUser)
	require.Eventually(t, func() bool {
		resp := h.request(t, http.MethodGet, "/api/notifications/unread-count", carol, nil)
		var body struct {
			Unread int `json:"unread"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && body.Unread == 1
	}, 5*time.Second, 50*time.Millisecond)

	resp := h.request(t, http.MethodGet, "/api/notifications", carol, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Notifications []struct {
			Type  string `json:"type"`
			Title string `json:"title"`
		} `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, string(domain.NotifyMessageReceived), list.Notifications[0].Type)
	assert.Equal(t, "New Message", list.Notifications[0].Title)
}

func TestServer_AdminNotification(t *testing.T) {
	h := setupIntegrationTest(t)
	bob := h.dial(t, "bob")
	require.Eventually(t, func() bool { return h.s.App.Sessions.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)

	body := `{"user_id":"bob","type":"ROOM_INVITE","data":{"roomId":"lobby","roomName":"Lobby"}}`

	resp := h.request(t, http.MethodPost, "/api/admin/notifications", h.token(t, "alice", domain.RoleUser), strings.NewReader(body))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/admin/notifications", h.token(t, "root", domain.RoleAdmin), strings.NewReader(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	f := readUntil(t, bob, fanout.FrameNotification)
	assert.Equal(t, string(domain.NotifyRoomInvite), f.Field("type"))
	assert.Equal(t, "You've been invited to join Lobby", f.Field("message"))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	cfg := testutils.ConfigForTests(t)
	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	s := server.New(a)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.E.ListenerAddr() != nil }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.E.ListenerAddr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
