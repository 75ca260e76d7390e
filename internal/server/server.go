// Package server exposes an App over HTTP: the websocket endpoint, the REST
// API, health checks and metrics.
package server

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/chathub/internal/app"
	"github.com/nfrund/chathub/internal/handlers"
	appmiddleware "github.com/nfrund/chathub/internal/middleware"
)

// Server holds the HTTP side of an instance.
type Server struct {
	E   *echo.Echo
	App *app.App
}

// New creates the echo instance for a and registers every route.
func New(a *app.App) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		Skipper:      skipHealthChecks,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: a.Metrics.Registry,
		Skipper:    skipHealthChecks,
	}))

	s := &Server{E: e, App: a}
	s.RegisterRoutes()
	return s
}

func skipHealthChecks(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/health" || p == "/ready" || strings.HasPrefix(p, "/metrics")
}
