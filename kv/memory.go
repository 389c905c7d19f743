package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	set       map[string]struct{}
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process [Store]. It is safe for concurrent use and
// evaluates TTLs lazily against its clock, which makes it suitable for
// deterministic expiry tests. State is not shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memEntry
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		entries: make(map[string]*memEntry),
	}
}

// live returns the entry for key, evicting it if expired. Caller holds mu.
func (s *MemoryStore) live(key string, now time.Time) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.now())
	if e == nil {
		return nil, ErrNotFound
	}
	if e.set != nil {
		return nil, ErrWrongType
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) SetIfExists(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.now())
	if e == nil {
		return false, nil
	}
	if e.set != nil {
		return false, ErrWrongType
	}
	e.value = append([]byte(nil), value...)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, key := range keys {
		if s.live(key, now) != nil {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key, s.now()) != nil, nil
}

func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []string
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if s.live(key, now) != nil {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, setKey string, members ...string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(setKey, s.now())
	if e == nil {
		e = &memEntry{set: make(map[string]struct{}, len(members))}
		s.entries[setKey] = e
	}
	if e.set == nil {
		return ErrWrongType
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) IsMember(ctx context.Context, setKey, member string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(setKey, s.now())
	if e == nil {
		return false, nil
	}
	if e.set == nil {
		return false, ErrWrongType
	}
	_, ok := e.set[member]
	return ok, nil
}

func (s *MemoryStore) Members(ctx context.Context, setKey string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(setKey, s.now())
	if e == nil {
		return []string{}, nil
	}
	if e.set == nil {
		return nil, ErrWrongType
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, setKey string, members ...string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(setKey, s.now())
	if e == nil {
		return nil
	}
	if e.set == nil {
		return ErrWrongType
	}
	for _, m := range members {
		delete(e.set, m)
	}
	// Redis drops empty sets; mirror that so Exists agrees across backends.
	if len(e.set) == 0 {
		delete(s.entries, setKey)
	}
	return nil
}

func (s *MemoryStore) ExpireSet(ctx context.Context, setKey string, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(setKey, now)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.entries, setKey)
		return nil
	}
	e.expiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		e = &memEntry{value: []byte("0")}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
		s.entries[key] = e
	}
	if e.set != nil {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, ErrWrongType
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctxErr(ctx)
}

// Len reports the number of live keys. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key := range s.entries {
		if s.live(key, now) != nil {
			n++
		}
	}
	return n
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
