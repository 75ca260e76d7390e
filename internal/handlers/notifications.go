package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/nfrund/chathub/internal/fanout"
)

// Acceptor runs an event through the fan-out pipeline.
type Acceptor interface {
	Accept(ctx context.Context, sender domain.Identity, ev event.Event) (fanout.Result, error)
}

// NotificationHandler serves the caller's notifications and the admin
// moderation endpoint.
type NotificationHandler struct {
	store  domain.NotificationStore
	engine Acceptor
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(store domain.NotificationStore, engine Acceptor) *NotificationHandler {
	return &NotificationHandler{store: store, engine: engine}
}

// List handles GET /api/notifications, newest first.
func (h *NotificationHandler) List(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req PageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid page or limit")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, "invalid page or limit")
	}

	page, err := h.store.List(c.Request().Context(), id.UserID, req.Page, req.Limit)
	if err != nil {
		return errorJSON(c, domain.NewPersistenceError("list notifications", err))
	}
	return c.JSON(http.StatusOK, newNotificationList(page))
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	page, err := h.store.List(c.Request().Context(), id.UserID, 1, 1)
	if err != nil {
		return errorJSON(c, domain.NewPersistenceError("count notifications", err))
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": page.Unread})
}

// MarkRead handles PUT /api/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.store.MarkRead(c.Request().Context(), id.UserID, c.Param("id")); err != nil {
		return errorJSON(c, domain.NewPersistenceError("mark notification read", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead handles PUT /api/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.store.MarkAllRead(c.Request().Context(), id.UserID); err != nil {
		return errorJSON(c, domain.NewPersistenceError("mark notifications read", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /api/notifications/:id.
func (h *NotificationHandler) Delete(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), id.UserID, c.Param("id")); err != nil {
		return errorJSON(c, domain.NewPersistenceError("delete notification", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminCreate handles POST /api/admin/notifications. The notification is
// queued on notification_queue and stored by its consumer.
func (h *NotificationHandler) AdminCreate(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req AdminNotificationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	ev := event.Event{
		Kind: event.Notification,
		Notice: &event.Notice{
			Type:   domain.NotificationType(req.Type),
			UserID: req.UserID,
			Data:   req.Data,
		},
	}
	res, err := h.engine.Accept(c.Request().Context(), id, ev)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"event_id": res.Event.ID})
}
