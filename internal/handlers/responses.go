package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/middleware"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HistoryResponse is one page of a conversation, oldest message first.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// NotificationView is a stored notification with its rendered template.
type NotificationView struct {
	domain.Notification
	domain.Rendered
}

// NotificationListResponse is one page of the caller's notifications.
type NotificationListResponse struct {
	Notifications []NotificationView `json:"notifications"`
	Page          int                `json:"page"`
	Limit         int                `json:"limit"`
	Total         int                `json:"total"`
	Unread        int                `json:"unread"`
	HasNext       bool               `json:"has_next"`
	HasPrev       bool               `json:"has_prev"`
}

func newNotificationList(p domain.NotificationPage) NotificationListResponse {
	views := make([]NotificationView, 0, len(p.Items))
	for _, n := range p.Items {
		views = append(views, NotificationView{Notification: n, Rendered: n.Render()})
	}
	return NotificationListResponse{
		Notifications: views,
		Page:          p.Page,
		Limit:         p.Limit,
		Total:         p.Total,
		Unread:        p.Unread,
		HasNext:       p.HasNext,
		HasPrev:       p.HasPrev,
	}
}

var codeStatus = map[string]int{
	fanout.CodeBadRequest:   http.StatusBadRequest,
	fanout.CodeUnauthorized: http.StatusForbidden,
	fanout.CodeNotInRoom:    http.StatusForbidden,
	fanout.CodeNotFound:     http.StatusNotFound,
}

// errorJSON answers with the wire code of err. Internal errors are logged and
// their detail withheld.
func errorJSON(c echo.Context, err error) error {
	code := fanout.ErrorCode(err)
	status, ok := codeStatus[code]
	if !ok {
		middleware.FromContext(c.Request().Context()).Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: code, Message: "internal error"})
	}
	return c.JSON(status, ErrorResponse{Code: code, Message: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Code: fanout.CodeBadRequest, Message: msg})
}

// identity returns the caller set by the Auth middleware.
func identity(c echo.Context) (domain.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, errors.New("no identity on request")
	}
	return id, nil
}
