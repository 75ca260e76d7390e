package auth_errors

import "errors"

// Errors returned while authenticating a connection or API request.
var (
	// ErrMissingToken indicates the request carried no bearer token, auth cookie,
	// or token query parameter.
	ErrMissingToken = errors.New("authentication token required")

	// ErrInvalidToken indicates the token failed signature or claims validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token was well formed but past its expiry.
	ErrExpiredToken = errors.New("token has expired")

	// ErrUserBanned indicates the token belongs to a suspended account.
	ErrUserBanned = errors.New("user is banned")
)
