package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
)

// PresenceSource reports live sessions.
type PresenceSource interface {
	IsOnline(userID string) bool
	Count() int
	OnlineUsers() int
}

// UserPresence is the presence of one user.
type UserPresence struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Online   bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	source PresenceSource
	users  domain.UserDirectory
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(source PresenceSource, users domain.UserDirectory) *PresenceHandler {
	return &PresenceHandler{source: source, users: users}
}

// GetPresence returns the number of live sessions and online users on this
// instance.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"sessions":     h.source.Count(),
		"online_users": h.source.OnlineUsers(),
	})
}

// GetUserPresence returns the presence status for a specific user
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	userID := c.Param("userId")
	u, err := h.users.FindUser(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "user not found"})
		}
		return errorJSON(c, domain.NewPersistenceError("find user", err))
	}

	return c.JSON(http.StatusOK, UserPresence{
		UserID:   u.ID,
		Username: u.Username,
		// a live session here wins over a directory record another instance
		// has not updated yet
		Online:   u.Online || h.source.IsOnline(userID),
		LastSeen: u.LastSeen,
	})
}
