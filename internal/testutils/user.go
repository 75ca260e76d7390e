package testutils

import (
	"github.com/nfrund/chathub/internal/domain"
)

// NewUser builds a directory record with the user role.
func NewUser(id, username string) domain.User {
	return domain.User{ID: id, Username: username, Role: domain.RoleUser}
}

// NewAdmin builds a directory record with the global admin role.
func NewAdmin(id, username string) domain.User {
	u := NewUser(id, username)
	u.Role = domain.RoleAdmin
	return u
}
