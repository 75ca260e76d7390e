package event

import (
	"encoding/json"
	"testing"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsSortableIDs(t *testing.T) {
	a := New(RoomMessage, "u1")
	b := New(RoomMessage, "u1")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.ID, b.ID, "ids generated in sequence must sort in sequence")
	assert.False(t, a.Timestamp.IsZero())
}

func TestKindQueue(t *testing.T) {
	assert.Equal(t, MessageQueue, RoomMessage.Queue())
	assert.Equal(t, MessageQueue, DirectMessage.Queue())
	assert.Equal(t, NotificationQueue, Notification.Queue())
	assert.Empty(t, TypingStart.Queue())
	assert.Empty(t, UserJoined.Queue())
}

func TestValidate(t *testing.T) {
	msg := &domain.Message{ID: "m1", Content: "hi"}

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"room message", Event{ID: "1", Kind: RoomMessage, RoomID: "r1", Message: msg}, false},
		{"room message without room", Event{ID: "1", Kind: RoomMessage, Message: msg}, true},
		{"room message without body", Event{ID: "1", Kind: RoomMessage, RoomID: "r1"}, true},
		{"direct message", Event{ID: "1", Kind: DirectMessage, ReceiverID: "u2", Message: msg}, false},
		{"direct message without receiver", Event{ID: "1", Kind: DirectMessage, Message: msg}, true},
		{"typing in room", Event{ID: "1", Kind: TypingStart, RoomID: "r1"}, false},
		{"typing nowhere", Event{ID: "1", Kind: TypingStop}, true},
		{"notification", Event{ID: "1", Kind: Notification, Notice: &Notice{Type: domain.NotifyUserBanned, UserID: "u1"}}, false},
		{"notification without user", Event{ID: "1", Kind: Notification, Notice: &Notice{Type: domain.NotifyUserBanned}}, true},
		{"missing id", Event{Kind: UserJoined, RoomID: "r1"}, true},
		{"unknown kind", Event{ID: "1", Kind: "BOGUS"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	body, err := json.Marshal(Event{ID: "x", Kind: RoomMessage})
	require.NoError(t, err)
	_, err = Decode(body)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEncodeDecodeKeepsOrigin(t *testing.T) {
	e := New(DirectMessage, "u1")
	e.ReceiverID = "u2"
	e.Origin = "instance-a"
	e.Message = &domain.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hello"}

	body, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", got.Origin)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "hello", got.Message.Content)
}
