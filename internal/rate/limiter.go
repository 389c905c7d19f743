package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

// Config holds rate limiter tuning parameters. A disabled throttle never
// touches the store.
type Config struct {
	EnableIPThrottle bool
	MaxLoginPerIP    int
	LoginWindow      time.Duration
	MaxRegisterPerIP int
	RegisterWindow   time.Duration

	EnableRefreshThrottle bool
	MaxRefreshPerSession  int
	RefreshWindow         time.Duration
}

// Limiter enforces per-IP and per-session budgets.
type Limiter struct {
	store  kv.Store
	config Config
}

// New creates a [Limiter] over store.
func New(store kv.Store, cfg Config) *Limiter {
	return &Limiter{store: store, config: cfg}
}

func loginIPKey(ip string) string       { return "rl:login:ip:" + ip }
func registerIPKey(ip string) string    { return "rl:register:ip:" + ip }
func refreshKey(sessionID string) string { return "rl:refresh:sid:" + sessionID }

// CheckLogin reports whether ip still has failed-login budget. On
// ErrRateLimited the returned duration is the time until the window resets.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) (time.Duration, error) {
	if !l.config.EnableIPThrottle || ip == "" {
		return 0, nil
	}
	return l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginPerIP)
}

// IncrementLogin records a failed login from ip.
func (l *Limiter) IncrementLogin(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	_, err := l.store.Incr(ctx, loginIPKey(ip), l.config.LoginWindow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// AllowRegister counts a registration attempt from ip.
func (l *Limiter) AllowRegister(ctx context.Context, ip string) (time.Duration, error) {
	if !l.config.EnableIPThrottle || ip == "" {
		return 0, nil
	}
	return l.consume(ctx, registerIPKey(ip), l.config.MaxRegisterPerIP, l.config.RegisterWindow)
}

// AllowRefresh counts a refresh attempt for sessionID.
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) (time.Duration, error) {
	if !l.config.EnableRefreshThrottle || sessionID == "" {
		return 0, nil
	}
	return l.consume(ctx, refreshKey(sessionID), l.config.MaxRefreshPerSession, l.config.RefreshWindow)
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) (time.Duration, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || count < int64(maxAttempts) {
		return 0, nil
	}
	return l.retryAfter(ctx, key), ErrRateLimited
}

func (l *Limiter) consume(ctx context.Context, key string, maxAttempts int, window time.Duration) (time.Duration, error) {
	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return l.retryAfter(ctx, key), ErrRateLimited
	}
	return 0, nil
}

func (l *Limiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
