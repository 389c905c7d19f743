package authcore

import (
	"errors"
	"time"
)

// Kind classifies an Error.
type Kind string

const (
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindUserNotFound          Kind = "USER_NOT_FOUND"
	KindUserAlreadyExists     Kind = "USER_ALREADY_EXISTS"
	KindRateLimitExceeded     Kind = "RATE_LIMIT_EXCEEDED"
	KindInvalidToken          Kind = "INVALID_TOKEN"
	KindTokenBlacklisted      Kind = "TOKEN_BLACKLISTED"
	KindInvalidRefreshToken   Kind = "INVALID_REFRESH_TOKEN"
	KindRefreshTokenNotFound  Kind = "REFRESH_TOKEN_NOT_FOUND"
	KindSessionExpired        Kind = "SESSION_EXPIRED"
	KindValidation            Kind = "VALIDATION_ERROR"
	KindStorage               Kind = "STORAGE_ERROR"
	KindTokenGenerationFailed Kind = "TOKEN_GENERATION_FAILED"
	// KindServerError is only ever a public kind; see Kind.Public.
	KindServerError Kind = "SERVER_ERROR"
)

// Public is the kind reported to clients. Unknown-user and bad-password
// failures are indistinguishable, and internal failures collapse to
// SERVER_ERROR.
func (k Kind) Public() Kind {
	switch k {
	case KindUserNotFound:
		return KindInvalidCredentials
	case KindStorage, KindTokenGenerationFailed, KindServerError, "":
		return KindServerError
	default:
		return k
	}
}

const credentialsMessage = "Invalid email or password"

var messages = map[Kind]string{
	KindInvalidCredentials:    credentialsMessage,
	KindUserNotFound:          credentialsMessage,
	KindUserAlreadyExists:     "An account with this email already exists",
	KindRateLimitExceeded:     "Too many attempts, try again later",
	KindInvalidToken:          "Invalid or expired token",
	KindTokenBlacklisted:      "Token has been revoked",
	KindInvalidRefreshToken:   "Invalid refresh token",
	KindRefreshTokenNotFound:  "Refresh token not found",
	KindSessionExpired:        "Session expired",
	KindValidation:            "Validation failed",
	KindStorage:               "Internal server error",
	KindTokenGenerationFailed: "Internal server error",
	KindServerError:           "Internal server error",
}

// Error is the tagged error returned by Engine.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for RATE_LIMIT_EXCEEDED.
	RetryAfter time.Duration
	// Fields carries per-field detail for VALIDATION_ERROR.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Message: messages[KindInvalidCredentials]}
	ErrUserNotFound          = &Error{Kind: KindUserNotFound, Message: messages[KindUserNotFound]}
	ErrUserAlreadyExists     = &Error{Kind: KindUserAlreadyExists, Message: messages[KindUserAlreadyExists]}
	ErrRateLimitExceeded     = &Error{Kind: KindRateLimitExceeded, Message: messages[KindRateLimitExceeded]}
	ErrInvalidToken          = &Error{Kind: KindInvalidToken, Message: messages[KindInvalidToken]}
	ErrTokenBlacklisted      = &Error{Kind: KindTokenBlacklisted, Message: messages[KindTokenBlacklisted]}
	ErrInvalidRefreshToken   = &Error{Kind: KindInvalidRefreshToken, Message: messages[KindInvalidRefreshToken]}
	ErrRefreshTokenNotFound  = &Error{Kind: KindRefreshTokenNotFound, Message: messages[KindRefreshTokenNotFound]}
	ErrSessionExpired        = &Error{Kind: KindSessionExpired, Message: messages[KindSessionExpired]}
	ErrValidation            = &Error{Kind: KindValidation, Message: messages[KindValidation]}
	ErrStorage               = &Error{Kind: KindStorage, Message: messages[KindStorage]}
	ErrTokenGenerationFailed = &Error{Kind: KindTokenGenerationFailed, Message: messages[KindTokenGenerationFailed]}
	ErrServer                = &Error{Kind: KindServerError, Message: messages[KindServerError]}
)

// ErrUserExists is the alias user stores return for a duplicate email.
var ErrUserExists = ErrUserAlreadyExists

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: messages[kind], cause: cause}
}

func rateLimited(retryAfter time.Duration, cause error) *Error {
	e := newError(KindRateLimitExceeded, cause)
	e.RetryAfter = retryAfter
	return e
}

func validationError(fields map[string]string) *Error {
	e := newError(KindValidation, nil)
	e.Fields = fields
	return e
}

// KindOf extracts the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
