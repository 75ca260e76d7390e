package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/chathub/internal/config"
	"github.com/surrealdb/surrealdb.go"
)

// ErrNotConnected is returned when no connection has been established.
var ErrNotConnected = errors.New("database not connected")

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// Connection owns the SurrealDB session of the stores. It redials when a
// call fails with a network error and, once monitoring is started, when a
// periodic health check fails.
type Connection struct {
	cfg     config.StoreConfig
	backoff Backoff

	mu sync.RWMutex
	db *surrealdb.DB

	healthy  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewConnection creates an unconnected Connection.
func NewConnection(cfg config.StoreConfig) *Connection {
	return &Connection{cfg: cfg, backoff: DefaultBackoff, stop: make(chan struct{})}
}

// Connect dials the database unless a session already exists.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}
	return c.dial(ctx)
}

// WithConnection runs fn on the current session. A network failure causes a
// redial and fn is run again, with backoff between attempts.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	db := c.current()
	if db == nil {
		return ErrNotConnected
	}

	err := fn(db)
	if !isConnectionError(err) {
		return err
	}
	slog.WarnContext(ctx, "Lost database connection, redialing", "db_url", redactDBURL(c.cfg.DBUrl), "error", err)

	return c.backoff.Retry(ctx, func(ctx context.Context) error {
		if err := c.redial(ctx); err != nil {
			return err
		}
		return fn(c.current())
	})
}

// StartMonitoring runs the periodic health check until Close.
func (c *Connection) StartMonitoring() {
	go c.monitor()
}

// Close stops monitoring and closes the session. It is safe to call twice.
func (c *Connection) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.healthy.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close(ctx)
	c.db = nil
	return err
}

// IsHealthy reports the outcome of the last dial or health check.
func (c *Connection) IsHealthy() bool {
	return c.healthy.Load()
}

// Ping asks the server for its version.
func (c *Connection) Ping(ctx context.Context) error {
	db := c.current()
	if db == nil {
		c.healthy.Store(false)
		return ErrNotConnected
	}
	if _, err := db.Version(ctx); err != nil {
		c.healthy.Store(false)
		return fmt.Errorf("ping %s: %w", redactDBURL(c.cfg.DBUrl), err)
	}
	c.healthy.Store(true)
	return nil
}

func (c *Connection) current() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// dial replaces the session. c.mu must be held.
func (c *Connection) dial(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close(ctx)
		c.db = nil
	}
	db, err := NewDB(ctx, c.cfg)
	if err != nil {
		c.healthy.Store(false)
		return err
	}
	c.db = db
	c.healthy.Store(true)
	return nil
}

func (c *Connection) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stop:
		return ErrNotConnected
	default:
	}
	return c.dial(ctx)
}

func (c *Connection) monitor() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.checkAndRecover()
		}
	}
}

func (c *Connection) checkAndRecover() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	err := c.Ping(ctx)
	cancel()
	if err == nil {
		return
	}
	slog.Warn("Database health check failed", "db_url", redactDBURL(c.cfg.DBUrl), "error", err)

	ctx, cancel = context.WithTimeout(context.Background(), healthCheckInterval)
	defer cancel()
	if err := c.backoff.Retry(ctx, c.redial); err != nil {
		slog.Error("Failed to reconnect to database", "db_url", redactDBURL(c.cfg.DBUrl), "error", err)
	}
}

// isConnectionError reports whether err looks like a dropped network
// connection. Deadlines and cancellations are the caller's and are not.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected eof",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func redactDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}

// query runs q on the managed connection within the configured timeout.
func query[T any](ctx context.Context, c *Connection, q string, params map[string]any) ([]T, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	var rows []T
	err := c.WithConnection(ctx, func(db *surrealdb.DB) (err error) {
		rows, err = Query[T](ctx, db, q, params)
		return err
	})
	return rows, err
}

func queryOne[T any](ctx context.Context, c *Connection, q string, params map[string]any) (*T, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	var row *T
	err := c.WithConnection(ctx, func(db *surrealdb.DB) (err error) {
		row, err = QueryOne[T](ctx, db, q, params)
		return err
	})
	return row, err
}

func execute(ctx context.Context, c *Connection, q string, params map[string]any) error {
	ctx, cancel := withTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	return c.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, q, params)
	})
}
