package session

import (
	"time"

	"github.com/MrEthical07/authcore/ids"
)

// SessionUser is the user snapshot embedded in a session and returned by
// Validate.
type SessionUser struct {
	ID          ids.UserID
	Email       string
	DisplayName string
}

// Device describes the client that created a session. All fields are optional.
type Device struct {
	IPAddress   string
	UserAgent   string
	Fingerprint string
}

// Session is one login instance.
type Session struct {
	ID             ids.SessionID
	User           SessionUser
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	Device         Device
	Active         bool
}

// UserID is shorthand for s.User.ID.
func (s *Session) UserID() ids.UserID { return s.User.ID }

// Live reports whether the session may still validate at now.
func (s *Session) Live(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
