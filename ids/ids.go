package ids

import (
	"crypto/rand"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidEmail is returned when an address fails syntax validation.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidUserID is returned for empty or oversized user identifiers.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidSessionID is returned when a session identifier is not a ULID.
	ErrInvalidSessionID = errors.New("invalid session id")
)

const (
	maxEmailLength  = 254
	maxUserIDLength = 128
)

// UserID identifies a user record owned by the external user store.
type UserID string

// SessionID identifies a single login instance.
type SessionID string

// Email is a normalized (trimmed, lowercased) email address.
type Email string

// ParseUserID validates an opaque user identifier. Colons are rejected
// because user ids are embedded in colon-delimited store keys.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxUserIDLength || strings.ContainsRune(raw, ':') {
		return "", ErrInvalidUserID
	}
	return UserID(raw), nil
}

func (u UserID) String() string { return string(u) }

// NewSessionID returns a new ULID-backed session identifier. ULIDs sort by
// creation time, which keeps per-user session listings naturally ordered.
func NewSessionID(now time.Time) (SessionID, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return SessionID(id.String()), nil
}

// ParseSessionID validates a session identifier received from a client.
func ParseSessionID(raw string) (SessionID, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidSessionID
	}
	return SessionID(id.String()), nil
}

func (s SessionID) String() string { return string(s) }

// ParseEmail normalizes and validates an email address. Display-name forms
// ("Alice <alice@example.com>") are rejected.
func ParseEmail(raw string) (Email, error) {
	normalized := NormalizeEmail(raw)
	if normalized == "" || len(normalized) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Name != "" || addr.Address != normalized {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndexByte(normalized, '@')
	if at <= 0 || !strings.Contains(normalized[at+1:], ".") {
		return "", ErrInvalidEmail
	}

	return Email(normalized), nil
}

// NormalizeEmail trims surrounding whitespace and lowercases the address
// without validating it. Used for lookups keyed by identity.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (e Email) String() string { return string(e) }
