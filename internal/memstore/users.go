// Package memstore holds in-memory implementations of the external store
// collaborators, used for development and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
)

// Users is an in-memory domain.UserDirectory.
type Users struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUsers creates a directory holding the given users.
func NewUsers(users ...domain.User) *Users {
	u := &Users{users: make(map[string]domain.User)}
	for _, usr := range users {
		u.Put(usr)
	}
	return u
}

// Put inserts or replaces a user.
func (u *Users) Put(usr domain.User) {
	if usr.Role == "" {
		usr.Role = domain.RoleUser
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[usr.ID] = usr
}

// SetBanned flips the banned flag of an existing user.
func (u *Users) SetBanned(userID string, banned bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	usr, ok := u.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	usr.Banned = banned
	u.users[userID] = usr
	return nil
}

func (u *Users) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	usr, ok := u.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &usr, nil
}

func (u *Users) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	usr, ok := u.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	usr.Online = online
	if !online {
		seen := at
		usr.LastSeen = &seen
	}
	u.users[userID] = usr
	return nil
}
