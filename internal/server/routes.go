package server

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/handlers"
	"github.com/nfrund/chathub/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	a := s.App
	cfg := a.Config

	health := handlers.NewHealthHandler(a.Stores.Checks)
	history := handlers.NewHistoryHandler(a.Cache, a.Stores.Messages, a.Stores.Users)
	notifications := handlers.NewNotificationHandler(a.Stores.Notifications, a.Engine)
	presence := handlers.NewPresenceHandler(a.Sessions, a.Stores.Users)

	auth := middleware.Auth(a.Auth)

	s.E.GET("/health", health.Live)
	s.E.GET("/ready", health.Ready)
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: a.Metrics.Registry,
	}))

	s.E.GET("/ws", a.Gateway.Handler(), auth)

	api := s.E.Group("/api", auth, middleware.RateLimiter(cfg.APIRateLimit, cfg.APIRateBurst))

	api.GET("/rooms/:roomId/messages", history.RoomHistory)
	api.GET("/direct/:userId/messages", history.DirectHistory)

	api.GET("/notifications", notifications.List)
	api.GET("/notifications/unread-count", notifications.UnreadCount)
	api.PUT("/notifications/read-all", notifications.MarkAllRead)
	api.PUT("/notifications/:id/read", notifications.MarkRead)
	api.DELETE("/notifications/:id", notifications.Delete)

	api.GET("/presence", presence.GetPresence)
	api.GET("/users/:userId/presence", presence.GetUserPresence)

	admin := api.Group("/admin", middleware.RequireRole(domain.RoleAdmin))
	admin.POST("/notifications", notifications.AdminCreate)
}
