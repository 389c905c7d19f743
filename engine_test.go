package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEndToEndRegisterLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	e := env.engine

	reg := env.register(t, "Alice@Example.com", "P@ssw0rd1")
	if reg.User.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", reg.User.Email)
	}

	login := env.login(t, "alice@example.com", "P@ssw0rd1")
	if login.SessionID == "" || login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("incomplete login result: %+v", login)
	}
	if !login.SessionExpiresAt.Equal(env.clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("unexpected session expiry %v", login.SessionExpiresAt)
	}

	claims, err := e.VerifyAccess(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID != reg.User.ID || claims.SessionID != login.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	refreshed, err := e.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken == login.AccessToken || refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("refresh must return new token strings")
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatalf("refresh changed session: %s != %s", refreshed.SessionID, login.SessionID)
	}

	existed, err := e.Logout(ctx, LogoutRequest{SessionID: login.SessionID.String()})
	if err != nil || !existed {
		t.Fatalf("logout: existed=%v err=%v", existed, err)
	}

	_, err = e.ValidateSession(ctx, login.SessionID.String())
	requireKind(t, err, KindSessionExpired)

	_, err = e.Refresh(ctx, refreshed.RefreshToken)
	if err == nil {
		t.Fatal("refresh after logout must fail")
	}
}

func TestRefreshRotationRejectsPredecessor(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.register(t, "bob@example.com", "s3cretpass")
	login := env.login(t, "bob@example.com", "s3cretpass")

	if _, err := env.engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	_, err := env.engine.Refresh(ctx, login.RefreshToken)
	requireKind(t, err, KindRefreshTokenNotFound)

	if got := env.engine.metrics.Value(MetricRefreshReplay); got != 1 {
		t.Fatalf("expected one replay, got %d", got)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "carol@example.com", "s3cretpass")
	login := env.login(t, "carol@example.com", "s3cretpass")

	_, err := env.engine.Refresh(context.Background(), login.AccessToken)
	requireKind(t, err, KindInvalidRefreshToken)

	_, err = env.engine.Refresh(context.Background(), "")
	requireKind(t, err, KindInvalidRefreshToken)
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "dave@example.com", "s3cretpass")
	login := env.login(t, "dave@example.com", "s3cretpass")

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(context.Background(), login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrRefreshTokenNotFound) {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Metrics.EnableLatencyHistograms = true })
	ctx := context.Background()

	reg := env.register(t, "erin@example.com", "s3cretpass")

	p, err := env.engine.Authenticate(ctx, reg.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.User.ID != reg.User.ID || p.SessionID != reg.SessionID {
		t.Fatalf("unexpected principal %+v", p)
	}

	_, err = env.engine.Authenticate(ctx, "not-a-token")
	requireKind(t, err, KindInvalidToken)

	env.clock.Advance(16 * time.Minute)
	_, err = env.engine.Authenticate(ctx, reg.AccessToken)
	requireKind(t, err, KindInvalidToken)

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricAuthenticateSuccess] != 1 || snap.Counters[MetricAuthenticateFailure] != 2 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	var observed uint64
	for _, c := range snap.Histograms[MetricAuthenticateLatency] {
		observed += c
	}
	if observed != 3 {
		t.Fatalf("expected 3 latency observations, got %d", observed)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.DefaultTTL = time.Minute
		c.Session.RememberMeTTL = time.Minute
	})
	reg := env.register(t, "frank@example.com", "s3cretpass")

	env.clock.Advance(time.Minute + time.Second)
	// the access token (15m) outlives the session
	_, err := env.engine.Authenticate(context.Background(), reg.AccessToken)
	requireKind(t, err, KindSessionExpired)

	_, err = env.engine.Refresh(context.Background(), reg.RefreshToken)
	requireKind(t, err, KindSessionExpired)
}

func TestRememberMeSessionLength(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "gina@example.com", "s3cretpass")

	res, err := env.engine.Login(context.Background(), LoginRequest{Email: "gina@example.com", Password: "s3cretpass", RememberMe: true})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if want := env.clock.Now().Add(30 * 24 * time.Hour); !res.SessionExpiresAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, res.SessionExpiresAt)
	}
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "hank@example.com", "s3cretpass")

	_, unknown := env.engine.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "s3cretpass"})
	requireKind(t, unknown, KindUserNotFound)

	_, wrong := env.engine.Login(ctx, LoginRequest{Email: "hank@example.com", Password: "wrongpass1"})
	requireKind(t, wrong, KindInvalidCredentials)

	var u, w *Error
	if !errors.As(unknown, &u) || !errors.As(wrong, &w) {
		t.Fatal("expected *Error values")
	}
	if u.Kind.Public() != w.Kind.Public() || u.Message != w.Message {
		t.Fatalf("public errors differ: %s/%q vs %s/%q", u.Kind.Public(), u.Message, w.Kind.Public(), w.Message)
	}
}

func TestLoginLockoutAndLazyUnlock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "ivy@example.com", "s3cretpass")

	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: "ivy@example.com", Password: "wrongpass1"})
		requireKind(t, err, KindInvalidCredentials)
	}

	_, err := env.engine.Login(ctx, LoginRequest{Email: "ivy@example.com", Password: "s3cretpass"})
	requireKind(t, err, KindRateLimitExceeded)
	var rl *Error
	errors.As(err, &rl)
	if rl.RetryAfter != 15*time.Minute {
		t.Fatalf("expected retry after 15m, got %v", rl.RetryAfter)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	env.login(t, "ivy@example.com", "s3cretpass")

	if got := env.engine.metrics.Value(MetricLoginLocked); got < 2 {
		t.Fatalf("expected lock metrics, got %d", got)
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "jack@example.com", "s3cretpass")

	for i := 0; i < 4; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "jack@example.com", Password: "wrongpass1"})
	}
	env.login(t, "jack@example.com", "s3cretpass")

	for i := 0; i < 4; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: "jack@example.com", Password: "wrongpass1"})
		requireKind(t, err, KindInvalidCredentials)
	}
	env.login(t, "jack@example.com", "s3cretpass")
}

func TestLoginIPThrottle(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.EnableIPThrottle = true
		c.RateLimit.MaxLoginPerIP = 2
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 2; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: "ghost" + string(rune('a'+i)) + "@example.com", Password: "x1"})
		requireKind(t, err, KindUserNotFound)
	}
	_, err := env.engine.Login(ctx, LoginRequest{Email: "other@example.com", Password: "x1"})
	requireKind(t, err, KindRateLimitExceeded)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "not-an-email", Password: "short"})
	requireKind(t, err, KindValidation)

	var verr *Error
	errors.As(err, &verr)
	if _, ok := verr.Fields["email"]; !ok {
		t.Fatalf("missing email field error: %+v", verr.Fields)
	}
	if _, ok := verr.Fields["password"]; !ok {
		t.Fatalf("missing password field error: %+v", verr.Fields)
	}

	for _, pw := range []string{"lettersonly", "12345678", string(make([]byte, 73))} {
		_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "kate@example.com", Password: pw})
		requireKind(t, err, KindValidation)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "liam@example.com", "s3cretpass")

	_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "LIAM@example.com", Password: "s3cretpass"})
	requireKind(t, err, KindUserAlreadyExists)
	if !errors.Is(err, ErrUserExists) {
		t.Fatal("expected errors.Is match on ErrUserExists")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	existed, err := env.engine.Logout(ctx, LogoutRequest{SessionID: "01JHBN8Q0000000000000000ZZ"})
	if err != nil || existed {
		t.Fatalf("unknown session: existed=%v err=%v", existed, err)
	}

	reg := env.register(t, "mia@example.com", "s3cretpass")
	for i, want := range []bool{true, false} {
		existed, err := env.engine.Logout(ctx, LogoutRequest{SessionID: reg.SessionID.String()})
		if err != nil || existed != want {
			t.Fatalf("logout #%d: existed=%v err=%v", i, existed, err)
		}
	}

	_, err = env.engine.Logout(ctx, LogoutRequest{SessionID: "bogus"})
	requireKind(t, err, KindValidation)
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "nina@example.com", "s3cretpass")

	existed, err := env.engine.Logout(ctx, LogoutRequest{AccessToken: reg.AccessToken})
	if err != nil || !existed {
		t.Fatalf("logout: existed=%v err=%v", existed, err)
	}

	_, err = env.engine.VerifyAccess(ctx, reg.AccessToken)
	requireKind(t, err, KindTokenBlacklisted)

	_, err = env.engine.Refresh(ctx, reg.RefreshToken)
	if err == nil {
		t.Fatal("refresh token of logged-out session must not work")
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "omar@example.com", "s3cretpass")
	first := env.login(t, "omar@example.com", "s3cretpass")
	second := env.login(t, "omar@example.com", "s3cretpass")

	existed, err := env.engine.Logout(ctx, LogoutRequest{SessionID: first.SessionID.String(), All: true})
	if err != nil || !existed {
		t.Fatalf("logout all: existed=%v err=%v", existed, err)
	}

	list, err := env.engine.Sessions(ctx, first.User.ID.String())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions, got %d", len(list))
	}

	_, err = env.engine.Refresh(ctx, second.RefreshToken)
	requireKind(t, err, KindSessionExpired)
}

func TestLogoutOthersKeepsCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "pia@example.com", "s3cretpass")
	env.login(t, "pia@example.com", "s3cretpass")
	env.login(t, "pia@example.com", "s3cretpass")

	removed, err := env.engine.LogoutOthers(ctx, reg.User.ID.String(), reg.SessionID.String())
	if err != nil || removed != 2 {
		t.Fatalf("logout others: removed=%d err=%v", removed, err)
	}

	if _, err := env.engine.Authenticate(ctx, reg.AccessToken); err != nil {
		t.Fatalf("kept session must still authenticate: %v", err)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.MaxPerUser = 2 })
	ctx := context.Background()

	reg := env.register(t, "quinn@example.com", "s3cretpass")
	env.clock.Advance(time.Second)
	second := env.login(t, "quinn@example.com", "s3cretpass")
	env.clock.Advance(time.Second)
	third := env.login(t, "quinn@example.com", "s3cretpass")

	_, err := env.engine.Authenticate(ctx, reg.AccessToken)
	requireKind(t, err, KindSessionExpired)

	list, err := env.engine.Sessions(ctx, reg.User.ID.String())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != third.SessionID || list[1].ID != second.SessionID {
		t.Fatalf("unexpected session list %+v", list)
	}
}

func TestStorageFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "ruth@example.com", "s3cretpass")

	env.redis.Close()

	_, err := env.engine.Authenticate(ctx, reg.AccessToken)
	requireKind(t, err, KindStorage)
	if KindOf(err).Public() != KindServerError {
		t.Fatalf("storage errors must surface as SERVER_ERROR, got %s", KindOf(err).Public())
	}

	_, err = env.engine.Login(ctx, LoginRequest{Email: "ruth@example.com", Password: "s3cretpass"})
	requireKind(t, err, KindStorage)
}

func TestUserStoreFailureIsStorageError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.users.failErr = errors.New("db down")

	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "sam@example.com", Password: "s3cretpass"})
	requireKind(t, err, KindStorage)
	if got := env.engine.metrics.Value(MetricStorageError); got != 1 {
		t.Fatalf("expected storage metric 1, got %d", got)
	}
}

func TestDeviceFallsBackToContext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.4"), "curl/8.0")

	reg, err := env.engine.Register(ctx, RegisterRequest{Email: "tia@example.com", Password: "s3cretpass"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	list, err := env.engine.Sessions(ctx, reg.User.ID.String())
	if err != nil || len(list) != 1 {
		t.Fatalf("sessions: %v (%d)", err, len(list))
	}
	if list[0].IPAddress != "198.51.100.4" || list[0].UserAgent != "curl/8.0" {
		t.Fatalf("device not recorded: %+v", list[0])
	}
}

func TestAuditEvents(t *testing.T) {
	sink := NewChannelAuditSink(32)
	env := newTestEnv(t, nil)
	engine, err := New().
		WithConfig(testConfig()).
		WithStore(env.engine.store).
		WithUserStore(newTestUsers()).
		WithHasher(fastHasher{}).
		WithClock(env.clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx := WithClientIP(context.Background(), "192.0.2.1")
	if _, err := engine.Register(ctx, RegisterRequest{Email: "uma@example.com", Password: "s3cretpass"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _ = engine.Login(ctx, LoginRequest{Email: "uma@example.com", Password: "wrongpass1"})
	engine.Close()

	var types []string
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		types = append(types, ev.Type)
		if ev.IP != "192.0.2.1" {
			t.Fatalf("missing ip on %s", ev.Type)
		}
		if ev.Type == "login" && (ev.Success || ev.ErrorKind != string(KindInvalidCredentials)) {
			t.Fatalf("unexpected login event %+v", ev)
		}
	}
	if len(types) != 2 || types[0] != "register" || types[1] != "login" {
		t.Fatalf("unexpected events %v", types)
	}
	if engine.AuditDropped() != 0 {
		t.Fatalf("unexpected drops")
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without user store")
	}

	b := New().WithConfig(testConfig()).WithUserStore(newTestUsers()).WithHasher(fastHasher{})
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if e.Backend() != "memory" {
		t.Fatalf("expected memory fallback without redis, got %s", e.Backend())
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}

	bad := testConfig()
	bad.JWT.RefreshSecret = bad.JWT.AccessSecret
	if _, err := New().WithConfig(bad).WithUserStore(newTestUsers()).Build(); err == nil {
		t.Fatal("expected identical secrets to be rejected")
	}
}
