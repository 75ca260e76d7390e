// Package auth is the identity service: it issues and verifies the signed
// tokens clients present when connecting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/domain/auth_errors"
)

const (
	// DefaultTokenTTL is used when no positive TTL is configured.
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "chathub"
)

// Claims are the JWT claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// JWT authenticates HS256 tokens. When a user directory is set the token
// subject must still exist and not be banned, and the directory's role wins
// over the role in the token.
type JWT struct {
	secret []byte
	ttl    time.Duration
	users  domain.UserDirectory
	now    func() time.Time
}

// NewJWT creates the identity service. users may be nil, in which case the
// identity is taken from the token alone.
func NewJWT(secret string, ttl time.Duration, users domain.UserDirectory) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWT{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}, nil
}

// Issue signs a token for id and returns it with its expiry.
func (a *JWT) Issue(id domain.Identity) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: id.Username,
		Role:     id.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Authenticate verifies token and resolves the identity it was issued to.
func (a *JWT) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, auth_errors.ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, auth_errors.ErrExpiredToken
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", auth_errors.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", auth_errors.ErrInvalidToken)
	}

	if a.users == nil {
		role := claims.Role
		if !role.Valid() {
			role = domain.RoleUser
		}
		return domain.Identity{UserID: claims.Subject, Username: claims.Username, Role: role}, nil
	}

	user, err := a.users.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: user not found", auth_errors.ErrInvalidToken)
		}
		return domain.Identity{}, fmt.Errorf("look up token subject: %w", err)
	}
	if user.Banned {
		return domain.Identity{}, auth_errors.ErrUserBanned
	}
	return user.Identity(), nil
}
