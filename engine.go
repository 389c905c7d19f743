package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"github.com/rs/zerolog"
)

// Engine is the auth orchestrator. It is safe for concurrent use; all
// cross-request state lives in the kv store.
type Engine struct {
	config    Config
	store     kv.Store
	backend   kv.Backend
	users     UserStore
	verifier  *password.Verifier
	decoyHash string
	tokens    *token.Service
	sessions  *session.Manager
	guard     *lockout.Guard
	limiter   *rate.Limiter
	audit     *audit.Dispatcher
	metrics   *Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Backend names the kv store selected at Build.
func (e *Engine) Backend() kv.Backend { return e.backend }

// AuditDropped reports how many audit events were dropped because the sink buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
REGISTER / LOGIN
====================================
*/

// Register creates a user and signs them in with a default-length session.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthSuccess, error) {
	ip := clientIPFromContext(ctx)
	if retry, err := e.limiter.AllowRegister(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "register", nil)
			return nil, rateLimited(retry, err)
		}
		return nil, e.storageError(ctx, "register", err, nil)
	}

	email, displayName, err := e.validateRegister(req)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		return nil, err
	}

	_, err = e.findUser(ctx, email)
	switch {
	case err == nil:
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, audit.EventRegister, false, "", email.String(), "", ErrUserAlreadyExists, nil)
		return nil, newError(KindUserAlreadyExists, nil)
	case !errors.Is(err, ErrUserNotFound):
		return nil, e.storageError(ctx, "register.lookup", err, nil)
	}

	hashed, err := e.verifier.Hash(req.Password)
	if err != nil {
		e.logger.Error().Err(err).Str("op", "register.hash").Msg("password hashing failed")
		return nil, newError(KindServerError, err)
	}

	ctxUser, cancel := e.userContext(ctx)
	user, err := e.users.Create(ctxUser, NewUser{Email: email, HashedPassword: hashed, DisplayName: displayName})
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, audit.EventRegister, false, "", email.String(), "", ErrUserAlreadyExists, nil)
			return nil, newError(KindUserAlreadyExists, nil)
		}
		return nil, e.storageError(ctx, "register.create", err, nil)
	}

	result, err := e.startSession(ctx, user, req.Device, e.config.Session.DefaultTTL)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, audit.EventRegister, true, user.ID.String(), email.String(), result.SessionID.String(), nil, nil)
	return result, nil
}

// Login authenticates email and password. Locked identities get
// RATE_LIMIT_EXCEEDED with RetryAfter; unknown users and wrong passwords
// share one public error.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthSuccess, error) {
	email, err := validateLogin(req)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	ip := clientIPFromContext(ctx)

	if retry, err := e.limiter.CheckLogin(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "login_ip", nil)
			return nil, rateLimited(retry, err)
		}
		return nil, e.storageError(ctx, "login.throttle", err, nil)
	}

	status, err := e.guard.Check(ctx, email.String())
	if err != nil {
		return nil, e.storageError(ctx, "login.lockout", err, nil)
	}
	if !status.Allowed {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, audit.EventLoginLocked, false, "", email.String(), "", ErrRateLimitExceeded, nil)
		e.emitRateLimit(ctx, "login_lockout", nil)
		return nil, rateLimited(status.RetryAfter(e.now()), nil)
	}

	user, err := e.findUser(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, e.storageError(ctx, "login.lookup", err, nil)
		}
		e.verifier.Verify(req.Password, e.decoyHash)
		if err := e.recordLoginFailure(ctx, email, ip); err != nil {
			return nil, err
		}
		e.emitAudit(ctx, audit.EventLogin, false, "", email.String(), "", ErrUserNotFound, nil)
		return nil, newError(KindUserNotFound, nil)
	}

	if !e.verifier.Verify(req.Password, user.HashedPassword) {
		if err := e.recordLoginFailure(ctx, email, ip); err != nil {
			return nil, err
		}
		e.emitAudit(ctx, audit.EventLogin, false, user.ID.String(), email.String(), "", ErrInvalidCredentials, nil)
		return nil, newError(KindInvalidCredentials, nil)
	}

	if err := e.guard.RecordSuccess(ctx, email.String()); err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("lockout reset failed")
	}

	ttl := e.config.Session.DefaultTTL
	if req.RememberMe {
		ttl = e.config.Session.RememberMeTTL
	}
	result, err := e.startSession(ctx, user, req.Device, ttl)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, audit.EventLogin, true, user.ID.String(), email.String(), result.SessionID.String(), nil, func() map[string]string {
		if req.RememberMe {
			return map[string]string{"remember_me": "true"}
		}
		return nil
	})
	return result, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, email ids.Email, ip string) error {
	e.metricInc(MetricLoginFailure)

	status, err := e.guard.RecordFailure(ctx, email.String())
	if err != nil {
		return e.storageError(ctx, "login.record_failure", err, nil)
	}
	if status.State == lockout.StateLocked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, audit.EventLoginLocked, false, "", email.String(), "", ErrRateLimitExceeded, nil)
	}

	if err := e.limiter.IncrementLogin(ctx, ip); err != nil {
		return e.storageError(ctx, "login.throttle", err, nil)
	}
	return nil
}

func (e *Engine) startSession(ctx context.Context, user *UserRecord, device Device, ttl time.Duration) (*AuthSuccess, error) {
	snapshot := SessionUser{
		ID:          user.ID,
		Email:       user.Email.String(),
		DisplayName: user.DisplayName,
	}

	created, err := e.sessions.Create(ctx, snapshot, deviceFromContext(ctx, device), ttl)
	if err != nil {
		return nil, e.mapError(ctx, "session.create", err, snapshot.ID)
	}

	e.metricInc(MetricSessionCreated)
	for _, sid := range created.Evicted {
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, audit.EventSessionEvicted, true, user.ID.String(), "", sid.String(), nil, nil)
	}

	return &AuthSuccess{
		User:             snapshot,
		SessionID:        created.Session.ID,
		AccessToken:      created.Pair.AccessToken,
		RefreshToken:     created.Pair.RefreshToken,
		ExpiresAt:        created.Pair.ExpiresAt,
		RefreshExpiresAt: created.Pair.RefreshExpiresAt,
		SessionExpiresAt: created.Session.ExpiresAt,
	}, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout ends a session, or all sessions of its owner when req.All is set,
// and blacklists req.AccessToken when supplied. It reports whether any
// session existed; unknown sessions are a no-op.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) (bool, error) {
	var (
		sid   ids.SessionID
		owner ids.UserID
		err   error
	)

	if req.SessionID != "" {
		sid, err = ids.ParseSessionID(req.SessionID)
		if err != nil {
			return false, validationError(map[string]string{"sessionId": "must be a valid session id"})
		}
	}

	if req.AccessToken != "" {
		claims, err := e.tokens.VerifyAccess(ctx, req.AccessToken)
		switch {
		case err == nil:
			if sid == "" {
				sid = claims.SessionID
			}
			if sid == claims.SessionID {
				owner = claims.UserID
			}
		case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrTokenBlacklisted):
		default:
			return false, e.storageError(ctx, "logout.verify", err, nil)
		}
	}

	if sid == "" {
		if req.AccessToken == "" {
			return false, validationError(map[string]string{"sessionId": "is required"})
		}
		return false, nil
	}

	sess, err := e.sessions.Peek(ctx, sid)
	switch {
	case err == nil:
		owner = sess.UserID()
	case errors.Is(err, session.ErrSessionExpired):
	default:
		return false, e.storageError(ctx, "logout.lookup", err, func(ev *zerolog.Event) { ev.Str("session_id", sid.String()) })
	}

	var existed bool
	if req.All && owner != "" {
		n, err := e.sessions.InvalidateAllForUser(ctx, owner)
		if err != nil {
			return false, e.mapError(ctx, "logout.all", err, owner)
		}
		if _, err := e.tokens.RevokeAllForUser(ctx, owner); err != nil {
			return false, e.mapError(ctx, "logout.revoke_all", err, owner)
		}
		existed = n > 0
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, audit.EventLogoutAll, true, owner.String(), "", sid.String(), nil, nil)
	} else {
		existed, err = e.sessions.Invalidate(ctx, sid)
		if err != nil {
			return false, e.mapError(ctx, "logout.invalidate", err, owner)
		}
		if owner != "" {
			if _, err := e.tokens.RevokeSession(ctx, owner, sid); err != nil {
				return false, e.mapError(ctx, "logout.revoke", err, owner)
			}
		}
		if existed {
			e.metricInc(MetricLogout)
			e.emitAudit(ctx, audit.EventLogout, true, owner.String(), "", sid.String(), nil, nil)
		}
	}

	if req.AccessToken != "" {
		if err := e.tokens.Blacklist(ctx, req.AccessToken); err != nil {
			if !errors.Is(err, token.ErrInvalidToken) {
				return existed, e.storageError(ctx, "logout.blacklist", err, nil)
			}
		} else {
			e.metricInc(MetricTokenBlacklisted)
		}
	}

	return existed, nil
}

// LogoutOthers ends every session of userID except keep and revokes their
// refresh tokens. It returns how many sessions were removed.
func (e *Engine) LogoutOthers(ctx context.Context, userID string, keep string) (int, error) {
	uid, err := ids.ParseUserID(userID)
	if err != nil {
		return 0, validationError(map[string]string{"userId": "must be a valid user id"})
	}
	keepID, err := ids.ParseSessionID(keep)
	if err != nil {
		return 0, validationError(map[string]string{"sessionId": "must be a valid session id"})
	}

	removed, err := e.sessions.InvalidateOthersForUser(ctx, uid, keepID)
	if err != nil {
		return 0, e.mapError(ctx, "logout_others", err, uid)
	}
	for _, sid := range removed {
		if _, err := e.tokens.RevokeSession(ctx, uid, sid); err != nil {
			return len(removed), e.mapError(ctx, "logout_others.revoke", err, uid)
		}
	}

	e.emitAudit(ctx, audit.EventLogoutOthers, true, uid.String(), "", keepID.String(), nil, func() map[string]string {
		return map[string]string{"removed": strconv.Itoa(len(removed))}
	})
	return len(removed), nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates refreshToken. The session it belongs to must still be
// live; any failure means the caller has to sign in again.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthSuccess, error) {
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, newError(KindInvalidRefreshToken, nil)
	}

	uid, sid, err := e.tokens.Inspect(refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", err)
	}

	if retry, err := e.limiter.AllowRefresh(ctx, sid.String()); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitRateLimit(ctx, "refresh", func() map[string]string {
				return map[string]string{"session_id": sid.String()}
			})
			return nil, rateLimited(retry, err)
		}
		return nil, e.storageError(ctx, "refresh.throttle", err, nil)
	}

	sess, err := e.sessions.Validate(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			if _, revokeErr := e.tokens.RevokeSession(ctx, uid, sid); revokeErr != nil {
				e.logger.Warn().Err(revokeErr).Str("session_id", sid.String()).Msg("refresh token cleanup failed")
			}
			e.metricInc(MetricSessionExpired)
		}
		return nil, e.refreshFailed(ctx, uid, sid, err)
	}
	if sess.UserID() != uid {
		return nil, e.refreshFailed(ctx, uid, sid, token.ErrInvalidRefreshToken)
	}

	pair, err := e.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRefreshTokenNotFound) {
			e.metricInc(MetricRefreshReplay)
		}
		return nil, e.refreshFailed(ctx, uid, sid, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, audit.EventRefresh, true, uid.String(), "", sid.String(), nil, nil)
	return &AuthSuccess{
		User:             sess.User,
		SessionID:        sid,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.ExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionExpiresAt: sess.ExpiresAt,
	}, nil
}

func (e *Engine) refreshFailed(ctx context.Context, uid ids.UserID, sid ids.SessionID, err error) error {
	mapped := e.mapError(ctx, "refresh", err, uid)
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, audit.EventRefreshRejected, false, uid.String(), "", sid.String(), mapped, nil)
	return mapped
}

/*
====================================
VERIFY / AUTHENTICATE
====================================
*/

// VerifyAccess checks an access token against the blacklist and its
// signature. It does not consult the session; see Authenticate.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	claims, err := e.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, e.mapError(ctx, "verify_access", err, "")
	}
	return &AccessClaims{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		TokenID:   claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// ValidateSession returns the user snapshot of a live session, or
// SESSION_EXPIRED.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*SessionUser, error) {
	sid, err := ids.ParseSessionID(sessionID)
	if err != nil {
		return nil, newError(KindSessionExpired, err)
	}
	sess, err := e.sessions.Validate(ctx, sid)
	if err != nil {
		return nil, e.mapError(ctx, "validate_session", err, "")
	}
	user := sess.User
	return &user, nil
}

// Authenticate verifies a bearer access token and the session behind it.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	start := time.Now()
	p, err := e.authenticate(ctx, accessToken)
	e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return p, nil
}

func (e *Engine) authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, e.mapError(ctx, "authenticate", err, "")
	}

	sess, err := e.sessions.Validate(ctx, claims.SessionID)
	if err != nil {
		return nil, e.mapError(ctx, "authenticate.session", err, claims.UserID)
	}
	if sess.UserID() != claims.UserID {
		return nil, newError(KindInvalidToken, nil)
	}

	return &Principal{
		User:             sess.User,
		SessionID:        sess.ID,
		TokenID:          claims.JTI,
		ExpiresAt:        claims.ExpiresAt,
		SessionExpiresAt: sess.ExpiresAt,
	}, nil
}

// Sessions lists the live sessions of userID, most recently used first.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	uid, err := ids.ParseUserID(userID)
	if err != nil {
		return nil, validationError(map[string]string{"userId": "must be a valid user id"})
	}

	list, err := e.sessions.List(ctx, uid)
	if err != nil {
		return nil, e.mapError(ctx, "sessions", err, uid)
	}

	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionInfo{
			ID:             sess.ID,
			CreatedAt:      sess.CreatedAt,
			ExpiresAt:      sess.ExpiresAt,
			LastAccessedAt: sess.LastAccessedAt,
			IPAddress:      sess.Device.IPAddress,
			UserAgent:      sess.Device.UserAgent,
		})
	}
	return out, nil
}

/*
====================================
HELPERS
====================================
*/

func (e *Engine) userContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.UserStoreTimeout)
}

func (e *Engine) findUser(ctx context.Context, email ids.Email) (*UserRecord, error) {
	ctx, cancel := e.userContext(ctx)
	defer cancel()

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// mapError converts a component error into an *Error. Anything that is not
// a recognized token or session failure is treated as a storage failure.
func (e *Engine) mapError(ctx context.Context, op string, err error, userID ids.UserID) error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	switch {
	case errors.Is(err, token.ErrInvalidToken):
		return newError(KindInvalidToken, nil)
	case errors.Is(err, token.ErrTokenBlacklisted):
		return newError(KindTokenBlacklisted, nil)
	case errors.Is(err, token.ErrInvalidRefreshToken):
		return newError(KindInvalidRefreshToken, nil)
	case errors.Is(err, token.ErrRefreshTokenNotFound):
		return newError(KindRefreshTokenNotFound, nil)
	case errors.Is(err, session.ErrSessionExpired):
		return newError(KindSessionExpired, nil)
	case errors.Is(err, token.ErrTokenGeneration):
		e.logger.Error().Err(err).Str("op", op).Str("user_id", userID.String()).Msg("token generation failed")
		return newError(KindTokenGenerationFailed, err)
	}

	return e.storageError(ctx, op, err, func(ev *zerolog.Event) {
		if userID != "" {
			ev.Str("user_id", userID.String())
		}
	})
}

func (e *Engine) storageError(ctx context.Context, op string, err error, fields func(*zerolog.Event)) error {
	e.metricInc(MetricStorageError)

	ev := e.logger.Error().Err(err).Str("op", op)
	if ip := clientIPFromContext(ctx); ip != "" {
		ev = ev.Str("ip", ip)
	}
	if fields != nil {
		fields(ev)
	}
	ev.Msg("storage failure")

	return newError(KindStorage, err)
}
