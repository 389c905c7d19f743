package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that a key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps every backend connectivity or timeout failure.
	ErrUnavailable = errors.New("kv: store unavailable")
	// ErrWrongType is returned when a set operation targets a plain value or vice versa.
	ErrWrongType = errors.New("kv: wrong value type for key")
)

// DefaultOpTimeout bounds each individual store operation.
const DefaultOpTimeout = 3 * time.Second

// Store is the storage contract used by every authcore component. Each
// operation is individually atomic; no multi-key transactions are assumed.
//
// A ttl <= 0 on Set means "no expiry".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfExists overwrites key only when it is live, keeping its TTL. It
	// reports whether the write happened and never creates the key.
	SetIfExists(ctx context.Context, key string, value []byte) (bool, error)
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// ScanPrefix returns every live key starting with prefix using cursor
	// iteration; it never issues a single unbounded keyspace call.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	AddToSet(ctx context.Context, setKey string, members ...string) error
	IsMember(ctx context.Context, setKey, member string) (bool, error)
	Members(ctx context.Context, setKey string) ([]string, error)
	RemoveFromSet(ctx context.Context, setKey string, members ...string) error
	ExpireSet(ctx context.Context, setKey string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key. Missing keys return
	// ErrNotFound; keys without expiry return a negative duration.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Incr increments a counter and applies ttl only when the counter is
	// created (fixed-window semantics). Increment and expiry are applied
	// atomically.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Ping(ctx context.Context) error
}

// Backend names the selected store implementation.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)
