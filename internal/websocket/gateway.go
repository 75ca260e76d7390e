// Package websocket is the transport boundary: it upgrades authenticated
// requests, registers the session, feeds inbound frames to the fan-out engine
// and writes outbound frames with a bounded buffer and a heartbeat.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/event"
	"github.com/nfrund/chathub/internal/fanout"
	"github.com/nfrund/chathub/internal/metrics"
	"github.com/nfrund/chathub/internal/middleware"
	"github.com/nfrund/chathub/internal/room"
	"github.com/nfrund/chathub/internal/session"
	"golang.org/x/time/rate"
)

const closeGrace = 2 * time.Second

// Acceptor runs inbound events through the delivery pipeline.
type Acceptor interface {
	Accept(ctx context.Context, sender domain.Identity, ev event.Event) (fanout.Result, error)
}

// Config tunes the transport.
type Config struct {
	SendBuffer        int
	Overflow          OverflowPolicy
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int
	WriteTimeout      time.Duration
	ReadLimit         int64
	// RateLimit is the sustained number of inbound frames per second allowed
	// per session, RateBurst the bucket size.
	RateLimit float64
	RateBurst int
	// OriginPatterns are the cross-origin hosts allowed to connect.
	OriginPatterns     []string
	InsecureSkipVerify bool
}

func (c *Config) setDefaults() {
	if c.SendBuffer < MinSendBuffer {
		c.SendBuffer = 256
	}
	if c.Overflow == "" {
		c.Overflow = DropOldest
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.MaxPingFailures <= 0 {
		c.MaxPingFailures = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
}

// Gateway serves websocket sessions.
type Gateway struct {
	cfg      Config
	sessions *session.Registry
	engine   Acceptor
	metrics  *metrics.Metrics
	decoder  *decoder
	logger   *slog.Logger

	// base ends every session when cancelled by Shutdown.
	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// NewGateway creates the transport. m may be nil.
func NewGateway(cfg Config, sessions *session.Registry, engine Acceptor, m *metrics.Metrics) *Gateway {
	cfg.setDefaults()
	if m == nil {
		m = metrics.New(nil)
	}
	base, stop := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		metrics:  m,
		decoder:  newDecoder(),
		logger:   slog.Default().With("component", "websocket"),
		base:     base,
		stop:     stop,
	}
}

// Shutdown closes every session with StatusGoingAway and waits for them to
// end or for ctx to expire. Upgrades after Shutdown are refused.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stop()
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler upgrades the request. It must run behind middleware.Auth; the
// handler returns once the session has ended.
func (g *Gateway) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, middleware.ErrorResponse{Code: fanout.CodeUnauthorized, Message: "authentication required"})
		}
		if !g.enter() {
			return c.JSON(http.StatusServiceUnavailable, middleware.ErrorResponse{Code: fanout.CodeInternal, Message: "server shutting down"})
		}
		defer g.active.Done()

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns:     g.cfg.OriginPatterns,
			InsecureSkipVerify: g.cfg.InsecureSkipVerify,
		})
		if err != nil {
			g.logger.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
			return nil
		}
		g.serve(c.Request().Context(), conn, id)
		return nil
	}
}

func (g *Gateway) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, id domain.Identity) {
	conn.SetReadLimit(g.cfg.ReadLimit)

	client := NewClient(id.UserID, g.cfg.SendBuffer, g.cfg.Overflow)
	client.onDrop = func() { g.metrics.Drops.WithLabelValues(metrics.DropOverflow).Inc() }
	client.SessionID = g.sessions.Register(id.UserID, client)
	logger := g.logger.With("session_id", client.SessionID, "user_id", id.UserID)
	logger.Info("session connected")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			// Unregister first so no further pushes are resolved to this client.
			g.sessions.Unregister(client.SessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	stopOnShutdown := context.AfterFunc(g.base, func() {
		shutdown(websocket.StatusGoingAway, "server shutting down")
	})
	defer stopOnShutdown()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown, logger)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown, logger)
	}()

	g.readLoop(ctx, conn, client, id, shutdown, logger)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	logger.Info("session closed", "dropped", client.Dropped())
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string), logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			if client.Overflowed() {
				g.metrics.Disconnects.WithLabelValues("overflow").Inc()
				logger.Warn("closing slow session, outbound buffer full")
				shutdown(websocket.StatusPolicyViolation, "slow consumer")
			}
			return
		case frame := <-client.Send():
			wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				logger.Info("websocket write failed", "close_status", websocket.CloseStatus(err), "error", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// heartbeat pings the peer. A session that misses MaxPingFailures pings in a
// row is treated as disconnected.
func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string), logger *slog.Logger) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hctx, hcancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hctx)
			hcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			logger.Info("websocket ping failed", "failures", failures, "error", err)
			if failures >= g.cfg.MaxPingFailures {
				g.metrics.Disconnects.WithLabelValues("heartbeat").Inc()
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, id domain.Identity, shutdown func(websocket.StatusCode, string), logger *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Debug("websocket closed by peer")
			case errors.Is(err, context.Canceled):
			default:
				logger.Info("websocket read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			g.sendError(client, fanout.CodeBadRequest, "text frames only")
			continue
		}
		if !limiter.Allow() {
			g.sendError(client, fanout.CodeRateLimited, "too many events")
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.sendError(client, fanout.CodeBadRequest, "invalid JSON")
			continue
		}
		ev, err := g.decoder.Event(in)
		if err != nil {
			g.push(client, fanout.ErrorFrame(err))
			continue
		}

		// In-flight work is not cancelled by a disconnect; its push becomes a
		// no-op once the session is unregistered.
		res, err := g.engine.Accept(context.WithoutCancel(ctx), id, ev)
		if err != nil {
			g.push(client, fanout.ErrorFrame(err))
			continue
		}
		if ack, ok := ackFrame(in.Type, ev, res); ok {
			g.push(client, ack)
		}
	}
}

func ackFrame(typ string, ev event.Event, res fanout.Result) (fanout.Frame, bool) {
	switch typ {
	case TypeJoinRoom:
		return fanout.Frame{Type: fanout.FrameJoinedRoom, Data: fanout.RoomAck{RoomID: ev.RoomID, Joined: res.Joined}}, true
	case TypeLeaveRoom:
		frameType := fanout.FrameLeftRoom
		if res.Outcome == room.OutcomeDeleted {
			frameType = fanout.FrameRoomDeleted
		}
		return fanout.Frame{Type: frameType, Data: fanout.RoomAck{RoomID: ev.RoomID, Promoted: res.Promoted}}, true
	}
	return fanout.Frame{}, false
}

func (g *Gateway) sendError(client *Client, code, msg string) {
	g.push(client, fanout.Frame{Type: fanout.FrameError, Data: fanout.ErrorPayload{Code: code, Message: msg}})
}

func (g *Gateway) push(client *Client, f fanout.Frame) {
	payload, err := f.Encode()
	if err != nil {
		g.logger.Error("failed to encode frame", "frame", f.Type, "error", err)
		return
	}
	client.Push(payload)
}
