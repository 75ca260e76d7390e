// Package database implements the domain stores on SurrealDB.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

// NewDB opens a session to cfg.DBUrl, signs in and selects the namespace
// and database. The session is closed again on any failure.
func NewDB(ctx context.Context, cfg config.StoreConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redactDBURL(cfg.DBUrl), err)
	}

	if _, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.DBUser, Password: cfg.DBPass}); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("sign in as %q: %w", cfg.DBUser, err)
	}
	if err := db.Use(ctx, cfg.DBNs, cfg.DBDb); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.DBNs, cfg.DBDb, err)
	}

	slog.Debug("Opened SurrealDB session", "db_url", redactDBURL(cfg.DBUrl), "namespace", cfg.DBNs, "database", cfg.DBDb)
	return db, nil
}

var (
	_ domain.UserDirectory     = (*UserStore)(nil)
	_ domain.MembershipStore   = (*RoomStore)(nil)
	_ domain.MessageStore      = (*MessageStore)(nil)
	_ domain.NotificationStore = (*NotificationStore)(nil)
)
