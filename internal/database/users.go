package database

import (
	"context"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type userRow struct {
	UID      string                 `json:"uid"`
	Username string                 `json:"username"`
	Role     string                 `json:"role"`
	Banned   bool                   `json:"is_banned"`
	Online   bool                   `json:"is_online"`
	LastSeen *models.CustomDateTime `json:"last_seen,omitempty"`
}

func (r userRow) toDomain() *domain.User {
	u := &domain.User{
		ID:       r.UID,
		Username: r.Username,
		Role:     domain.Role(r.Role),
		Banned:   r.Banned,
		Online:   r.Online,
	}
	if r.LastSeen != nil {
		t := r.LastSeen.Time
		u.LastSeen = &t
	}
	return u
}

// UserStore is a domain.UserDirectory backed by the user table.
type UserStore struct {
	conn *Connection
}

// NewUserStore creates a new UserStore.
func NewUserStore(conn *Connection) *UserStore {
	return &UserStore{conn: conn}
}

// FindUser returns domain.ErrNotFound when no user has the id.
func (s *UserStore) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	row, err := queryOne[userRow](ctx, s.conn,
		"SELECT uid, username, role, is_banned, is_online, last_seen FROM type::thing('user', $id)",
		map[string]any{"id": userID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// SetOnline records the user's presence and the time it changed.
func (s *UserStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	rows, err := query[userRow](ctx, s.conn,
		"UPDATE type::thing('user', $id) SET is_online = $online, last_seen = $at",
		map[string]any{
			"id":     userID,
			"online": online,
			"at":     models.CustomDateTime{Time: at.UTC()},
		})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Put creates or replaces the directory record for u.
func (s *UserStore) Put(ctx context.Context, u domain.User) error {
	role := u.Role
	if !role.Valid() {
		role = domain.RoleUser
	}
	return execute(ctx, s.conn,
		"UPSERT type::thing('user', $id) CONTENT $data",
		map[string]any{
			"id": u.ID,
			"data": map[string]any{
				"uid":       u.ID,
				"username":  u.Username,
				"role":      string(role),
				"is_banned": u.Banned,
				"is_online": u.Online,
			},
		})
}

// SetBanned flags or clears the user's ban.
func (s *UserStore) SetBanned(ctx context.Context, userID string, banned bool) error {
	rows, err := query[userRow](ctx, s.conn,
		"UPDATE type::thing('user', $id) SET is_banned = $banned",
		map[string]any{"id": userID, "banned": banned})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}
