package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/middleware"
)

// HistoryHandler serves paged message history.
type HistoryHandler struct {
	membership fanout.Membership
	messages   domain.MessageStore
	users      domain.UserDirectory
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(membership fanout.Membership, messages domain.MessageStore, users domain.UserDirectory) *HistoryHandler {
	return &HistoryHandler{membership: membership, messages: messages, users: users}
}

func (h *HistoryHandler) page(c echo.Context) (domain.HistoryQuery, error) {
	var req PageRequest
	if err := c.Bind(&req); err != nil {
		return domain.HistoryQuery{}, err
	}
	if err := c.Validate(&req); err != nil {
		return domain.HistoryQuery{}, err
	}
	q := domain.HistoryQuery{Page: req.Page, Limit: req.Limit}
	q.Normalize()
	return q, nil
}

// RoomHistory handles GET /api/rooms/:roomId/messages. Only members may read.
func (h *HistoryHandler) RoomHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := identity(c)
	if err != nil {
		return err
	}
	q, err := h.page(c)
	if err != nil {
		return badRequest(c, "invalid page or limit")
	}
	q.RoomID = c.Param("roomId")

	ok, err := h.membership.IsMember(ctx, id.UserID, q.RoomID)
	if err != nil {
		return errorJSON(c, domain.NewPersistenceError("check membership", err))
	}
	if !ok {
		return errorJSON(c, domain.ErrNotMember)
	}

	msgs, err := h.messages.History(ctx, q)
	if err != nil {
		return errorJSON(c, domain.NewPersistenceError("load room history", err))
	}
	return c.JSON(http.StatusOK, HistoryResponse{Messages: msgs, Page: q.Page, Limit: q.Limit})
}

// DirectHistory handles GET /api/direct/:userId/messages and marks the peer's
// messages to the caller as read.
func (h *HistoryHandler) DirectHistory(c echo.Context) error {
	ctx := c.Request().Context()
	logger := middleware.FromContext(ctx)
	id, err := identity(c)
	if err != nil {
		return err
	}
	q, err := h.page(c)
	if err != nil {
		return badRequest(c, "invalid page or limit")
	}
	q.UserID = id.UserID
	q.PeerID = c.Param("userId")

	if _, err := h.users.FindUser(ctx, q.PeerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errorJSON(c, domain.ErrRecipientNotFound)
		}
		return errorJSON(c, domain.NewPersistenceError("find user", err))
	}

	msgs, err := h.messages.History(ctx, q)
	if err != nil {
		return errorJSON(c, domain.NewPersistenceError("load direct history", err))
	}
	if err := h.messages.MarkRead(ctx, id.UserID, q.PeerID); err != nil {
		logger.Warn("failed to mark direct messages read", "user_id", id.UserID, "peer_id", q.PeerID, "error", err)
	} else {
		for i := range msgs {
			if msgs[i].ReceiverID == id.UserID {
				msgs[i].Read = true
			}
		}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Messages: msgs, Page: q.Page, Limit: q.Limit})
}
