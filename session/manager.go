package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/token"
)

// DefaultMaxPerUser is the default per-user session cap.
const DefaultMaxPerUser = 5

var (
	// ErrSessionExpired is returned by Validate for absent, expired or
	// inactive sessions.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidDuration is returned by Create for non-positive durations.
	ErrInvalidDuration = errors.New("session duration must be positive")
)

// Tokens is the part of the token service a Manager needs.
type Tokens interface {
	Issue(ctx context.Context, userID ids.UserID, email string, sessionID ids.SessionID) (token.Pair, error)
	RevokeSession(ctx context.Context, userID ids.UserID, sessionID ids.SessionID) (int, error)
}

// Config tunes a Manager.
type Config struct {
	// MaxPerUser caps concurrent sessions per user. Zero uses the default;
	// a negative value disables the cap.
	MaxPerUser int
	// TouchOnValidate refreshes LastAccessedAt on every successful Validate.
	TouchOnValidate bool
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Created is the result of Create.
type Created struct {
	Session *Session
	Pair    token.Pair
	// Evicted lists sessions removed to stay within the cap.
	Evicted []ids.SessionID
}

// Manager is the session manager.
type Manager struct {
	store  *Store
	tokens Tokens
	config Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager wires a Manager over backend.
func NewManager(backend kv.Store, tokens Tokens, cfg Config) *Manager {
	if cfg.MaxPerUser == 0 {
		cfg.MaxPerUser = DefaultMaxPerUser
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:  NewStore(backend),
		tokens: tokens,
		config: cfg,
		now:    now,
		logger: cfg.Logger.With().Str("component", "session").Logger(),
	}
}

// Create opens a session for user and issues its token pair. When the user
// is at the cap, the least-recently-accessed sessions are evicted first so
// the cap is never exceeded.
func (m *Manager) Create(ctx context.Context, user SessionUser, device Device, duration time.Duration) (Created, error) {
	if duration <= 0 {
		return Created{}, ErrInvalidDuration
	}

	evicted, err := m.enforceCap(ctx, user.ID)
	if err != nil {
		return Created{}, err
	}

	now := m.now().UTC()
	sid, err := ids.NewSessionID(now)
	if err != nil {
		return Created{}, fmt.Errorf("%w: %v", token.ErrTokenGeneration, err)
	}
	sess := &Session{
		ID:             sid,
		User:           user,
		CreatedAt:      now,
		ExpiresAt:      now.Add(duration),
		LastAccessedAt: now,
		Device:         clampDevice(device),
		Active:         true,
	}
	if err := m.store.Save(ctx, sess, duration); err != nil {
		return Created{}, err
	}

	pair, err := m.tokens.Issue(ctx, user.ID, user.Email, sid)
	if err != nil {
		if _, delErr := m.store.Delete(ctx, user.ID, sid); delErr != nil {
			m.logger.Warn().Err(delErr).Str("session_id", string(sid)).Msg("rollback of session after issue failure")
		}
		return Created{}, err
	}

	return Created{Session: sess, Pair: pair, Evicted: evicted}, nil
}

func (m *Manager) enforceCap(ctx context.Context, userID ids.UserID) ([]ids.SessionID, error) {
	if m.config.MaxPerUser < 0 {
		return nil, nil
	}
	sessions, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	excess := len(sessions) - m.config.MaxPerUser + 1
	if excess <= 0 {
		return nil, nil
	}

	sortByLastAccess(sessions)
	evicted := make([]ids.SessionID, 0, excess)
	for _, sess := range sessions[:excess] {
		if _, err := m.store.Delete(ctx, userID, sess.ID); err != nil {
			return evicted, err
		}
		if _, err := m.tokens.RevokeSession(ctx, userID, sess.ID); err != nil {
			return evicted, err
		}
		evicted = append(evicted, sess.ID)
	}
	return evicted, nil
}

// sortByLastAccess orders oldest access first, ties broken by creation time
// then id.
func sortByLastAccess(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Validate returns the live session for sessionID. A failed
// LastAccessedAt update is logged, not returned.
func (m *Manager) Validate(ctx context.Context, sessionID ids.SessionID) (*Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrCorruptSession) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	now := m.now().UTC()
	if !sess.Live(now) {
		return nil, ErrSessionExpired
	}

	if m.config.TouchOnValidate {
		sess.LastAccessedAt = now
		written, err := m.store.Put(ctx, sess)
		switch {
		case err != nil:
			m.logger.Warn().Err(err).Str("session_id", string(sessionID)).Msg("session touch failed")
		case !written:
			return nil, ErrSessionExpired
		}
	}
	return sess, nil
}

// List returns the user's live sessions, most recently accessed first.
func (m *Manager) List(ctx context.Context, userID ids.UserID) ([]*Session, error) {
	sessions, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	live := sessions[:0]
	for _, sess := range sessions {
		if sess.Live(now) {
			live = append(live, sess)
		}
	}
	sortByLastAccess(live)
	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}
	return live, nil
}

// Peek returns the live session without touching it.
func (m *Manager) Peek(ctx context.Context, sessionID ids.SessionID) (*Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrCorruptSession) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if !sess.Live(m.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Invalidate deletes a session and reports whether a record existed.
// Unknown ids are a no-op.
func (m *Manager) Invalidate(ctx context.Context, sessionID ids.SessionID) (bool, error) {
	var owner ids.UserID
	sess, err := m.store.Get(ctx, sessionID)
	switch {
	case err == nil:
		owner = sess.User.ID
	case errors.Is(err, ErrSessionNotFound):
		return false, nil
	case errors.Is(err, ErrCorruptSession):
	default:
		return false, err
	}
	return m.store.Delete(ctx, owner, sessionID)
}

// InvalidateAllForUser deletes every session owned by userID.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID ids.UserID) (int, error) {
	return m.store.DeleteAllForUser(ctx, userID)
}

// InvalidateOthersForUser deletes every session owned by userID except keep.
func (m *Manager) InvalidateOthersForUser(ctx context.Context, userID ids.UserID, keep ids.SessionID) ([]ids.SessionID, error) {
	sessionIDs, err := m.store.IDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	removed := make([]ids.SessionID, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		if sid == keep {
			continue
		}
		existed, err := m.store.Delete(ctx, userID, sid)
		if err != nil {
			return removed, err
		}
		if existed {
			removed = append(removed, sid)
		}
	}
	return removed, nil
}

func clampDevice(d Device) Device {
	d.IPAddress = clamp(d.IPAddress, maxShortField)
	d.Fingerprint = clamp(d.Fingerprint, maxShortField)
	d.UserAgent = clamp(d.UserAgent, maxLongField)
	return d
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
