package database

import (
	"context"
	"time"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// ContextKeyTimeout overrides the configured per-call timeout.
const ContextKeyTimeout ContextKey = "db_timeout"

const defaultTimeout = 5 * time.Second

// withTimeout applies the timeout found in ctx, or fallback when there is none.
func withTimeout(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := fallback
	if v, ok := ctx.Value(ContextKeyTimeout).(time.Duration); ok && v > 0 {
		timeout = v
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
