package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/domain/auth_errors"
)

const (
	// IdentityContextKey holds the authenticated domain.Identity.
	IdentityContextKey = "identity"
	// TokenCookie is the cookie a browser client may carry its token in.
	TokenCookie = "auth_token"
	// TokenQueryParam carries the token on websocket upgrades, where browsers
	// cannot set headers.
	TokenQueryParam = "token"
)

// Authenticator resolves a token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

// ErrorResponse is the JSON body of every error returned by the API.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Auth rejects requests without a valid token. The token is read from the
// Authorization bearer header, then the auth cookie, then the token query
// parameter.
func Auth(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := authn.Authenticate(c.Request().Context(), tokenFrom(c))
			if err != nil {
				FromContext(c.Request().Context()).Debug("authentication failed", "path", c.Path(), "error", err)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: authMessage(err)})
			}
			c.Set(IdentityContextKey, id)
			return next(c)
		}
	}
}

func tokenFrom(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.QueryParam(TokenQueryParam)
}

func authMessage(err error) string {
	for _, known := range []error{
		auth_errors.ErrMissingToken,
		auth_errors.ErrExpiredToken,
		auth_errors.ErrUserBanned,
		auth_errors.ErrInvalidToken,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "authentication failed"
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(IdentityContextKey).(domain.Identity)
	return id, ok
}

// RequireRole lets through only identities with the given role. It must run
// after Auth.
func RequireRole(role domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok || id.Role != role {
				return c.JSON(http.StatusForbidden, ErrorResponse{Code: "UNAUTHORIZED", Message: "insufficient role"})
			}
			return next(c)
		}
	}
}
