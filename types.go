package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/session"
)

// UserRecord is the external user identity the engine authenticates against.
type UserRecord struct {
	ID             ids.UserID
	Email          ids.Email
	HashedPassword string
	DisplayName    string
	CreatedAt      time.Time
}

// NewUser is passed to UserStore.Create.
type NewUser struct {
	Email          ids.Email
	HashedPassword string
	DisplayName    string
}

// UserStore is implemented by the application. FindByEmail and Get return
// ErrUserNotFound for absent records; Create returns ErrUserExists when the
// email is taken and must guarantee email uniqueness.
type UserStore interface {
	FindByEmail(ctx context.Context, email ids.Email) (*UserRecord, error)
	Create(ctx context.Context, user NewUser) (*UserRecord, error)
	Get(ctx context.Context, id ids.UserID) (*UserRecord, error)
}

// SessionUser is the user snapshot stored with each session.
type SessionUser = session.SessionUser

// Device is optional client metadata recorded on a session.
type Device = session.Device

type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	Device      Device
}

type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	Device     Device
}

// LogoutRequest ends SessionID, or every session of its owner when All is
// set. AccessToken, when present, is blacklisted. If SessionID is empty it
// is taken from AccessToken.
type LogoutRequest struct {
	SessionID   string
	AccessToken string
	All         bool
}

// AuthSuccess is returned by Register, Login and Refresh.
type AuthSuccess struct {
	User             SessionUser
	SessionID        ids.SessionID
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionExpiresAt time.Time
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    ids.UserID
	SessionID ids.SessionID
	TokenID   string
	ExpiresAt time.Time
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	User             SessionUser
	SessionID        ids.SessionID
	TokenID          string
	ExpiresAt        time.Time
	SessionExpiresAt time.Time
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID             ids.SessionID
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	IPAddress      string
	UserAgent      string
}
