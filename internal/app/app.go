// Package app wires the services of a chathub instance together in a
// samber/do container.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/chathub/internal/auth"
	"github.com/nfrund/chathub/internal/broker"
	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/metrics"
	"github.com/nfrund/chathub/internal/presence"
	"github.com/nfrund/chathub/internal/room"
	"github.com/nfrund/chathub/internal/session"
	"github.com/nfrund/chathub/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// App holds the wired services of one instance.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Sessions *session.Registry
	Stores   *Stores
	Broker   broker.Gateway
	Rooms    *room.Service
	Cache    *room.MembershipCache
	Engine   *fanout.Engine
	Presence *presence.Tracker
	Auth     *auth.JWT
	Gateway  *websocket.Gateway

	tracing *tracing
}

type tracing struct {
	tracer  trace.Tracer
	cleanup func()
}

// New builds every service for cfg. Services that hold connections are
// released again when a later one fails.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, provideMetrics)
	do.Provide(i, provideSessions)
	do.Provide(i, provideStores(ctx))
	do.Provide(i, provideTracing(ctx))
	do.Provide(i, provideBroker(ctx))
	do.Provide(i, provideCache)
	do.Provide(i, provideRooms)
	do.Provide(i, provideEngine)
	do.Provide(i, providePresence)
	do.Provide(i, provideAuth)
	do.Provide(i, provideGateway)

	a := &App{Config: cfg}
	steps := []func() error{
		func() (err error) { a.Metrics, err = do.Invoke[*metrics.Metrics](i); return },
		func() (err error) { a.Sessions, err = do.Invoke[*session.Registry](i); return },
		func() (err error) { a.Stores, err = do.Invoke[*Stores](i); return },
		func() (err error) { a.tracing, err = do.Invoke[*tracing](i); return },
		func() (err error) { a.Broker, err = do.Invoke[broker.Gateway](i); return },
		func() (err error) { a.Cache, err = do.Invoke[*room.MembershipCache](i); return },
		func() (err error) { a.Rooms, err = do.Invoke[*room.Service](i); return },
		func() (err error) { a.Engine, err = do.Invoke[*fanout.Engine](i); return },
		func() (err error) { a.Presence, err = do.Invoke[*presence.Tracker](i); return },
		func() (err error) { a.Auth, err = do.Invoke[*auth.JWT](i); return },
		func() (err error) { a.Gateway, err = do.Invoke[*websocket.Gateway](i); return },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

// Close stops sessions and background workers, then releases the broker,
// the stores and the tracer in that order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Gateway != nil {
		if err := a.Gateway.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown gateway: %w", err))
		}
	}
	if a.Presence != nil {
		a.Presence.Shutdown()
	}
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if err := a.Stores.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close stores: %w", err))
	}
	if a.tracing != nil {
		a.tracing.cleanup()
	}
	return errors.Join(errs...)
}

func provideMetrics(i do.Injector) (*metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), nil
}

func provideSessions(i do.Injector) (*session.Registry, error) {
	reg := session.NewRegistry()
	do.MustInvoke[*metrics.Metrics](i).TrackSessions(reg)
	return reg, nil
}

func provideStores(ctx context.Context) do.Provider[*Stores] {
	return func(i do.Injector) (*Stores, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return OpenStores(ctx, cfg.Store)
	}
}

func provideTracing(ctx context.Context) do.Provider[*tracing] {
	return func(i do.Injector) (*tracing, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracer, cleanup, err := broker.SetupTracing(ctx, broker.TracingConfig{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName,
			ZipkinURL:   cfg.Tracing.ZipkinURL,
		})
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		return &tracing{tracer: tracer, cleanup: cleanup}, nil
	}
}

func provideBroker(ctx context.Context) do.Provider[broker.Gateway] {
	return func(i do.Injector) (broker.Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		g, err := broker.Connect(ctx, broker.Config{
			URL:            cfg.Broker.URL,
			Group:          cfg.Broker.ConsumerGroup,
			Consumer:       cfg.InstanceID,
			PublishTimeout: cfg.Broker.PublishTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		slog.Info("Connected to broker", "url", cfg.Broker.URL, "group", cfg.Broker.ConsumerGroup)
		if !cfg.Tracing.Enabled {
			return g, nil
		}
		t, err := do.Invoke[*tracing](i)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		return broker.Traced(g, t.tracer), nil
	}
}

func provideCache(i do.Injector) (*room.MembershipCache, error) {
	cfg := do.MustInvoke[*config.Config](i)
	stores := do.MustInvoke[*Stores](i)
	return room.NewMembershipCache(stores.Rooms, cfg.MembershipCacheTTL), nil
}

func provideRooms(i do.Injector) (*room.Service, error) {
	stores := do.MustInvoke[*Stores](i)
	return room.NewService(stores.Rooms, do.MustInvoke[*room.MembershipCache](i)), nil
}

func provideEngine(i do.Injector) (*fanout.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	stores := do.MustInvoke[*Stores](i)
	return fanout.New(fanout.Deps{
		InstanceID:    cfg.InstanceID,
		Sessions:      do.MustInvoke[*session.Registry](i),
		Broker:        do.MustInvoke[broker.Gateway](i),
		Membership:    do.MustInvoke[*room.MembershipCache](i),
		Rooms:         do.MustInvoke[*room.Service](i),
		Users:         stores.Users,
		Messages:      stores.Messages,
		Notifications: stores.Notifications,
		Metrics:       do.MustInvoke[*metrics.Metrics](i),

		PublishTimeout: cfg.Broker.PublishTimeout,
	}), nil
}

// providePresence connects registry → tracker → engine.
func providePresence(i do.Injector) (*presence.Tracker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	reg := do.MustInvoke[*session.Registry](i)
	tracker := presence.NewTracker(reg,
		presence.WithUserDirectory(do.MustInvoke[*Stores](i).Users),
		presence.WithOfflineDebounce(cfg.PresenceOfflineDebounce),
	)
	tracker.Subscribe(do.MustInvoke[*fanout.Engine](i))
	reg.Subscribe(tracker)
	return tracker, nil
}

func provideAuth(i do.Injector) (*auth.JWT, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, do.MustInvoke[*Stores](i).Users)
}

func provideGateway(i do.Injector) (*websocket.Gateway, error) {
	cfg := do.MustInvoke[*config.Config](i)
	overflow, err := websocket.ParseOverflowPolicy(cfg.WS.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	return websocket.NewGateway(websocket.Config{
		SendBuffer:        cfg.WS.SendBuffer,
		Overflow:          overflow,
		HeartbeatInterval: cfg.WS.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WS.HeartbeatTimeout,
		MaxPingFailures:   cfg.WS.MaxPingFailures,
		WriteTimeout:      cfg.WS.WriteTimeout,
		ReadLimit:         cfg.WS.ReadLimit,
		RateLimit:         cfg.WS.RateLimit,
		RateBurst:         cfg.WS.RateBurst,
		OriginPatterns:    cfg.WS.OriginPatterns,
	},
		do.MustInvoke[*session.Registry](i),
		do.MustInvoke[*fanout.Engine](i),
		do.MustInvoke[*metrics.Metrics](i),
	), nil
}
