package websocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
)

// Inbound frame types.
const (
	TypeJoinRoom          = "join_room"
	TypeLeaveRoom         = "leave_room"
	TypeSendRoomMessage   = "send_room_message"
	TypeSendDirectMessage = "send_direct_message"
	TypeTypingStart       = "typing_start"
	TypeTypingStop        = "typing_stop"
)

// Inbound is a frame read from a client.
type Inbound struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type roomRequest struct {
	RoomID string `json:"room_id" validate:"required,max=128"`
}

type roomMessageRequest struct {
	RoomID   string `json:"room_id" validate:"required,max=128"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

type directMessageRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,max=128"`
	Content    string `json:"content"`
	ImageURL   string `json:"image_url" validate:"omitempty,url"`
}

type typingRequest struct {
	RoomID     string `json:"room_id" validate:"required_without=ReceiverID,max=128"`
	ReceiverID string `json:"receiver_id" validate:"required_without=RoomID,max=128"`
}

// decoder turns inbound frames into engine events.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New()}
}

func (d *decoder) bind(in Inbound, dst any) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", domain.ErrInvalidInput, in.Type)
	}
	if err := json.Unmarshal(in.Data, dst); err != nil {
		return fmt.Errorf("%w: malformed %s data", domain.ErrInvalidInput, in.Type)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}
	return nil
}

// describe flattens validator errors into a short client-facing message.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// Event converts an inbound frame into the event the engine accepts.
func (d *decoder) Event(in Inbound) (event.Event, error) {
	if err := d.validate.Struct(in); err != nil {
		return event.Event{}, fmt.Errorf("%w: frame type is required", domain.ErrInvalidInput)
	}

	switch in.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		var req roomRequest
		if err := d.bind(in, &req); err != nil {
			return event.Event{}, err
		}
		kind := event.UserJoined
		if in.Type == TypeLeaveRoom {
			kind = event.UserLeft
		}
		ev := event.New(kind, "")
		ev.RoomID = req.RoomID
		return ev, nil

	case TypeSendRoomMessage:
		var req roomMessageRequest
		if err := d.bind(in, &req); err != nil {
			return event.Event{}, err
		}
		ev := event.New(event.RoomMessage, "")
		ev.RoomID = req.RoomID
		ev.Message = &domain.Message{RoomID: req.RoomID, Content: req.Content, ImageURL: req.ImageURL}
		return ev, nil

	case TypeSendDirectMessage:
		var req directMessageRequest
		if err := d.bind(in, &req); err != nil {
			return event.Event{}, err
		}
		ev := event.New(event.DirectMessage, "")
		ev.ReceiverID = req.ReceiverID
		ev.Message = &domain.Message{ReceiverID: req.ReceiverID, Content: req.Content, ImageURL: req.ImageURL}
		return ev, nil

	case TypeTypingStart, TypeTypingStop:
		var req typingRequest
		if err := d.bind(in, &req); err != nil {
			return event.Event{}, err
		}
		kind := event.TypingStart
		if in.Type == TypeTypingStop {
			kind = event.TypingStop
		}
		ev := event.New(kind, "")
		ev.RoomID = req.RoomID
		if ev.RoomID == "" {
			ev.ReceiverID = req.ReceiverID
		}
		return ev, nil
	}
	return event.Event{}, fmt.Errorf("%w: unsupported frame type %q", domain.ErrInvalidInput, in.Type)
}
