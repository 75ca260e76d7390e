package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/database"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/handlers"
	"github.com/nfrund/chathub/internal/memstore"
)

// Stores are the external collaborators selected by STORE_DRIVER.
type Stores struct {
	Users         domain.UserDirectory
	Rooms         domain.MembershipStore
	Messages      domain.MessageStore
	Notifications domain.NotificationStore

	// Checks are the readiness checks of the backing services.
	Checks map[string]handlers.Check

	close func(ctx context.Context) error
}

// Close releases the backing connection, if any.
func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// OpenStores builds the stores for cfg.Driver.
func OpenStores(ctx context.Context, cfg config.StoreConfig) (*Stores, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return openMemory(cfg)
	case config.StoreSurreal:
		return openSurreal(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openMemory(cfg config.StoreConfig) (*Stores, error) {
	users := memstore.NewUsers()
	rooms := memstore.NewRooms()
	if cfg.SeedFile != "" {
		if err := memstore.LoadSeed(cfg.SeedFile, users, rooms); err != nil {
			return nil, err
		}
		slog.Info("Loaded seed data", "file", cfg.SeedFile)
	}
	return &Stores{
		Users:         users,
		Rooms:         rooms,
		Messages:      memstore.NewMessages(),
		Notifications: memstore.NewNotifications(),
		Checks:        map[string]handlers.Check{},
	}, nil
}

func openSurreal(ctx context.Context, cfg config.StoreConfig) (*Stores, error) {
	conn := database.NewConnection(cfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	conn.StartMonitoring()

	return &Stores{
		Users:         database.NewUserStore(conn),
		Rooms:         database.NewRoomStore(conn),
		Messages:      database.NewMessageStore(conn),
		Notifications: database.NewNotificationStore(conn),
		Checks: map[string]handlers.Check{
			"surrealdb": conn.Ping,
		},
		close: conn.Close,
	}, nil
}
