package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

const (
	DefaultMaxAttempts = 5
	DefaultDuration    = 15 * time.Minute

	keyPrefix     = "failed_attempts:"
	lockKeyPrefix = "failed_attempts_lock:"
)

// ErrLockoutUnavailable indicates the guard could not read or write its
// record. Callers must fail closed.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// State is the per-identity lockout state.
type State string

const (
	StateClean   State = "CLEAN"
	StateWarning State = "WARNING"
	StateLocked  State = "LOCKED"
)

// Config holds the lockout policy.
type Config struct {
	MaxAttempts int
	Duration    time.Duration
}

// Status is the outcome of Check and RecordFailure.
type Status struct {
	Allowed     bool
	State       State
	Count       int
	LockedUntil time.Time
}

// RetryAfter is the time left until the lock lifts, or zero.
func (s Status) RetryAfter(now time.Time) time.Duration {
	if s.LockedUntil.IsZero() || !s.LockedUntil.After(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Guard is the failed-attempt guard.
type Guard struct {
	store  kv.Store
	config Config
	now    func() time.Time
}

// NewGuard returns a Guard. Zero config fields take the defaults.
func NewGuard(store kv.Store, cfg Config, now func() time.Time) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, config: cfg, now: now}
}

func (g *Guard) key(identity string) string {
	return keyPrefix + identity
}

func (g *Guard) lockKey(identity string) string {
	return lockKeyPrefix + identity
}

// Check reports whether identity may attempt authentication. An expired
// lock is cleared here.
func (g *Guard) Check(ctx context.Context, identity string) (Status, error) {
	now := g.now()
	until, locked, err := g.lockedUntil(ctx, identity)
	if err != nil {
		return Status{}, err
	}
	count, err := g.count(ctx, identity)
	if err != nil {
		return Status{}, err
	}

	if locked {
		if now.Before(until) {
			return Status{Allowed: false, State: StateLocked, Count: count, LockedUntil: until}, nil
		}
		if _, err := g.store.Delete(ctx, g.key(identity), g.lockKey(identity)); err != nil {
			return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		return Status{Allowed: true, State: StateClean}, nil
	}

	switch {
	case count == 0:
		return Status{Allowed: true, State: StateClean}, nil
	case count >= g.config.MaxAttempts:
		// The counter window never outlives the lock, so a saturated counter
		// without a lock means the lock write is still in flight or failed.
		return Status{Allowed: false, State: StateLocked, Count: count, LockedUntil: now.Add(g.config.Duration)}, nil
	}
	return Status{Allowed: true, State: StateWarning, Count: count}, nil
}

// RecordFailure counts one failed attempt and locks the identity once the
// threshold is reached. The returned status reflects the new state. A lock
// that is already in place is not extended.
func (g *Guard) RecordFailure(ctx context.Context, identity string) (Status, error) {
	n, err := g.store.Incr(ctx, g.key(identity), g.config.Duration)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	count := int(n)

	now := g.now()
	until, locked, err := g.lockedUntil(ctx, identity)
	if err != nil {
		return Status{}, err
	}
	if locked && now.Before(until) {
		return Status{Allowed: false, State: StateLocked, Count: count, LockedUntil: until}, nil
	}
	if count < g.config.MaxAttempts {
		return Status{Allowed: true, State: StateWarning, Count: count}, nil
	}

	until = now.Add(g.config.Duration)
	raw := []byte(strconv.FormatInt(until.UnixMilli(), 10))
	if err := g.store.Set(ctx, g.lockKey(identity), raw, g.config.Duration); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return Status{Allowed: false, State: StateLocked, Count: count, LockedUntil: until}, nil
}

// RecordSuccess deletes the identity's counter and lock.
func (g *Guard) RecordSuccess(ctx context.Context, identity string) error {
	if _, err := g.store.Delete(ctx, g.key(identity), g.lockKey(identity)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func (g *Guard) count(ctx context.Context, identity string) (int, error) {
	raw, err := g.store.Get(ctx, g.key(identity))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: corrupt counter %q", ErrLockoutUnavailable, raw)
	}
	return n, nil
}

func (g *Guard) lockedUntil(ctx context.Context, identity string) (time.Time, bool, error) {
	raw, err := g.store.Get(ctx, g.lockKey(identity))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt lock %q", ErrLockoutUnavailable, raw)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
