package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nfrund/chathub/internal/app"
	"github.com/nfrund/chathub/internal/config"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Run declares the queues, starts the queue consumers and serves HTTP on the
// configured address until ctx is cancelled. A consumer that fails
// irrecoverably stops the server and its error is returned.
func (s *Server) Run(ctx context.Context) error {
	if err := s.App.Engine.DeclareQueues(ctx); err != nil {
		return fmt.Errorf("declare queues: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.App.Engine.Run(ctx); err != nil {
			return fmt.Errorf("queue consumer stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Starting server", "addr", s.App.Config.AppAddr, "instance_id", s.App.Config.InstanceID)
		if err := s.E.Start(s.App.Config.AppAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})
	return g.Wait()
}

// Shutdown closes live sessions with a going-away status, then stops
// accepting requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("Shutting down server")
	if err := s.App.Gateway.Shutdown(ctx); err != nil {
		slog.Warn("sessions did not close in time", "error", err)
	}
	if err := s.E.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// Serve builds an instance for cfg and runs it until ctx is cancelled, then
// releases everything it built.
func Serve(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := New(a).Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		slog.Error("failed to release resources", "error", err)
	}
	return runErr
}
