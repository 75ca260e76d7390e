package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationErrorsShareClass(t *testing.T) {
	for _, err := range []error{ErrNotMember, ErrRecipientNotFound, ErrRoomPrivate} {
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.ErrorIs(t, ErrRoomNotFound, ErrNotFound)
	assert.NotErrorIs(t, ErrRoomNotFound, ErrUnauthorized)
}

func TestNewPersistenceError(t *testing.T) {
	assert.NoError(t, NewPersistenceError("op", nil))
	assert.Same(t, ErrNotFound, NewPersistenceError("op", ErrNotFound))

	cause := errors.New("connection reset")
	err := NewPersistenceError("persist message", cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "persist message")

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "persist message", pe.Op)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
		want    MessageType
	}{
		{name: "room text", msg: Message{RoomID: "r1", Content: " hi "}, want: MessageText},
		{name: "direct image", msg: Message{ReceiverID: "bob", ImageURL: "https://x/y.png"}, want: MessageImage},
		{name: "system kept", msg: Message{RoomID: "r1", Content: "joined", Type: MessageSystem}, want: MessageSystem},
		{name: "empty", msg: Message{RoomID: "r1", Content: "   "}, wantErr: true},
		{name: "both targets", msg: Message{RoomID: "r1", ReceiverID: "bob", Content: "hi"}, wantErr: true},
		{name: "no target", msg: Message{Content: "hi"}, wantErr: true},
		{name: "too long", msg: Message{RoomID: "r1", Content: strings.Repeat("é", MaxContentLength+1)}, wantErr: true},
		{name: "at limit", msg: Message{RoomID: "r1", Content: strings.Repeat("é", MaxContentLength)}, want: MessageText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			err := msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
			assert.Equal(t, strings.TrimSpace(tt.msg.Content), msg.Content)
		})
	}
}

func TestHistoryQueryNormalize(t *testing.T) {
	q := HistoryQuery{}
	q.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultHistoryLimit, q.Limit)
	assert.Equal(t, 0, q.Offset())

	q = HistoryQuery{Page: 3, Limit: 500}
	q.Normalize()
	assert.Equal(t, MaxHistoryLimit, q.Limit)
	assert.Equal(t, 200, q.Offset())
}

func TestNotificationRender(t *testing.T) {
	data := func(v map[string]string) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}

	r := Notification{Type: NotifyMessageReceived, Data: data(map[string]string{"senderId": "alice", "senderName": "Alice"})}.Render()
	assert.Equal(t, "You have a new message from Alice", r.Message)
	assert.Equal(t, "/chat/alice", r.Action)

	r = Notification{Type: NotifyRoomInvite, Data: data(map[string]string{"roomId": "r1", "roomName": "Lobby"})}.Render()
	assert.Equal(t, "high", r.Priority)
	assert.Equal(t, "/rooms/r1", r.Action)

	r = Notification{Type: NotifyUserBanned}.Render()
	assert.Equal(t, "urgent", r.Priority)
	assert.Contains(t, r.Message, "Violation of terms")

	r = Notification{Type: "SOMETHING_NEW", Data: json.RawMessage(`not json`)}.Render()
	assert.Equal(t, "Notification", r.Title)
	assert.Equal(t, "/notifications", r.Action)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("OWNER").Valid())
	assert.True(t, Identity{Role: RoleAdmin}.IsAdmin())
}
