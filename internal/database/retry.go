package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff retries an operation with capped exponential delays.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Jitter adds up to a quarter of each delay at random.
	Jitter bool
}

// DefaultBackoff governs reconnects.
var DefaultBackoff = Backoff{Attempts: 6, Base: 100 * time.Millisecond, Max: 30 * time.Second, Jitter: true}

func (b Backoff) delay(retry int) time.Duration {
	d := b.Max
	if retry < 32 {
		if next := b.Base << retry; next > 0 && next < b.Max {
			d = next
		}
	}
	if b.Jitter && d > 0 {
		d += rand.N(d/4 + 1)
	}
	return d
}

// Retry calls fn until it succeeds, Attempts calls have failed, or ctx ends.
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			wait := b.delay(attempt - 1)
			slog.DebugContext(ctx, "Retrying database operation", "attempt", attempt+1, "wait", wait, "error", err)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", b.Attempts, err)
}
