package domain

import "errors"

// Credential failures. These terminate the attempt at the handshake and
// are never degraded.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)
