package domain

import (
	"context"
	"time"
)

// Role is the global role of an authenticated user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the authenticated principal behind a session. It is resolved once
// during the handshake and does not change for the lifetime of the session.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the global admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// User is the directory record for a user as seen by the chat backend.
type User struct {
	ID       string     `json:"user_id"`
	Username string     `json:"username"`
	Role     Role       `json:"role"`
	Banned   bool       `json:"is_banned"`
	Online   bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Identity projects the directory record onto an Identity.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// UserDirectory is the read side of the external user service plus the
// presence bookkeeping the backend writes back on connect and disconnect.
type UserDirectory interface {
	// FindUser returns ErrNotFound when the user does not exist.
	FindUser(ctx context.Context, userID string) (*User, error)
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
}
