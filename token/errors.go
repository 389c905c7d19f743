package token

import "errors"

var (
	// ErrInvalidToken covers every access-token verification failure.
	// The reason is deliberately not distinguished.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenBlacklisted reports an explicitly revoked access token.
	ErrTokenBlacklisted = errors.New("token blacklisted")
	// ErrInvalidRefreshToken covers refresh-token signature, expiry and type failures.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenNotFound reports a refresh token that was already
	// consumed, revoked or expired from the store.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrTokenGeneration reports a signing failure.
	ErrTokenGeneration = errors.New("token generation failed")
)
