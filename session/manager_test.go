package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/internal/clocktest"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/token"
)

type fakeTokens struct {
	mu       sync.Mutex
	issued   []ids.SessionID
	revoked  []ids.SessionID
	issueErr error
}

func (f *fakeTokens) Issue(_ context.Context, userID ids.UserID, email string, sid ids.SessionID) (token.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return token.Pair{}, f.issueErr
	}
	f.issued = append(f.issued, sid)
	return token.Pair{UserID: userID, Email: email, SessionID: sid, AccessToken: "a-" + string(sid), RefreshToken: "r-" + string(sid)}, nil
}

func (f *fakeTokens) RevokeSession(_ context.Context, _ ids.UserID, sid ids.SessionID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, sid)
	return 1, nil
}

var alice = SessionUser{ID: "user-alice", Email: "alice@example.com", DisplayName: "Alice"}

func newTestManager(t *testing.T, cfg Config) (*Manager, *clocktest.Clock, *fakeTokens, *kv.MemoryStore) {
	t.Helper()
	clock := clocktest.New(time.Time{})
	store := kv.NewMemoryStore(clock.Now)
	tokens := &fakeTokens{}
	cfg.Now = clock.Now
	return NewManager(store, tokens, cfg), clock, tokens, store
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, _, _ := newTestManager(t, Config{})

	created, err := m.Create(ctx, alice, Device{}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a-"+string(created.Session.ID), created.Pair.AccessToken)

	sess, err := m.Validate(ctx, created.Session.ID)
	require.NoError(t, err)
	require.Equal(t, alice, sess.User)

	clock.Advance(time.Second + time.Millisecond)
	_, err = m.Validate(ctx, created.Session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestValidateUnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t, Config{})
	_, err := m.Validate(context.Background(), "01JHBN8Q0000000000000000ZZ")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionCapEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	m, clock, tokens, _ := newTestManager(t, Config{MaxPerUser: 3, TouchOnValidate: true})

	var created []Created
	for i := 0; i < 3; i++ {
		c, err := m.Create(ctx, alice, Device{UserAgent: "device"}, time.Hour)
		require.NoError(t, err)
		created = append(created, c)
		clock.Advance(time.Second)
	}

	// touch the oldest so the second becomes least recently accessed
	_, err := m.Validate(ctx, created[0].Session.ID)
	require.NoError(t, err)
	clock.Advance(time.Second)

	fourth, err := m.Create(ctx, alice, Device{}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, []ids.SessionID{created[1].Session.ID}, fourth.Evicted)
	require.Equal(t, []ids.SessionID{created[1].Session.ID}, tokens.revoked)

	sessions, err := m.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, fourth.Session.ID, sessions[0].ID)

	_, err = m.Validate(ctx, created[1].Session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
	for _, c := range []Created{created[0], created[2], fourth} {
		_, err := m.Validate(ctx, c.Session.ID)
		require.NoError(t, err)
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _, _, store := newTestManager(t, Config{})

	c, err := m.Create(ctx, alice, Device{}, time.Hour)
	require.NoError(t, err)

	existed, err := m.Invalidate(ctx, c.Session.ID)
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = m.Invalidate(ctx, c.Session.ID)
	require.NoError(t, err)
	require.False(t, existed)

	_, err = m.Validate(ctx, c.Session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 0, store.Len())
}

func TestInvalidateAllAndOthers(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := newTestManager(t, Config{})
	bob := SessionUser{ID: "user-bob", Email: "bob@example.com"}

	var sids []ids.SessionID
	for i := 0; i < 3; i++ {
		c, err := m.Create(ctx, alice, Device{}, time.Hour)
		require.NoError(t, err)
		sids = append(sids, c.Session.ID)
	}
	bobSession, err := m.Create(ctx, bob, Device{}, time.Hour)
	require.NoError(t, err)

	removed, err := m.InvalidateOthersForUser(ctx, alice.ID, sids[1])
	require.NoError(t, err)
	require.ElementsMatch(t, []ids.SessionID{sids[0], sids[2]}, removed)

	sessions, err := m.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, sids[1], sessions[0].ID)

	n, err := m.InvalidateAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = m.Validate(ctx, sids[1])
	require.ErrorIs(t, err, ErrSessionExpired)
	_, err = m.Validate(ctx, bobSession.Session.ID)
	require.NoError(t, err)
}

func TestCreateRollsBackWhenIssueFails(t *testing.T) {
	ctx := context.Background()
	m, _, tokens, store := newTestManager(t, Config{})
	tokens.issueErr = token.ErrTokenGeneration

	_, err := m.Create(ctx, alice, Device{}, time.Hour)
	require.ErrorIs(t, err, token.ErrTokenGeneration)
	require.Equal(t, 0, store.Len())
}

func TestCreateRejectsNonPositiveDuration(t *testing.T) {
	m, _, _, _ := newTestManager(t, Config{})
	_, err := m.Create(context.Background(), alice, Device{}, 0)
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestListPrunesStaleIndexMembers(t *testing.T) {
	ctx := context.Background()
	m, clock, _, store := newTestManager(t, Config{})

	short, err := m.Create(ctx, alice, Device{}, time.Minute)
	require.NoError(t, err)
	long, err := m.Create(ctx, alice, Device{}, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	sessions, err := m.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, long.Session.ID, sessions[0].ID)

	members, err := store.Members(ctx, "user_sessions:"+string(alice.ID))
	require.NoError(t, err)
	require.NotContains(t, members, string(short.Session.ID))
}

func TestValidateSurfacesStorageErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := NewManager(kv.NewRedisStore(client, time.Second), &fakeTokens{}, Config{})
	ctx := context.Background()

	c, err := m.Create(ctx, alice, Device{IPAddress: "198.51.100.1"}, time.Hour)
	require.NoError(t, err)
	ttl := mr.TTL("session:" + string(c.Session.ID))
	require.Equal(t, time.Hour, ttl)

	mr.Close()
	_, err = m.Validate(ctx, c.Session.ID)
	require.ErrorIs(t, err, kv.ErrUnavailable)
	require.False(t, errors.Is(err, ErrSessionExpired))
}

// gatedStore parks the first Get on a matching key after it has read the
// value, until release is closed.
type gatedStore struct {
	kv.Store
	prefix  string
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedStore(inner kv.Store, prefix string) *gatedStore {
	return &gatedStore{Store: inner, prefix: prefix, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := g.Store.Get(ctx, key)
	if strings.HasPrefix(key, g.prefix) && g.armed.CompareAndSwap(true, false) {
		close(g.reached)
		<-g.release
	}
	return data, err
}

func TestTouchDoesNotRecreateInvalidatedSession(t *testing.T) {
	backends := map[string]func(t *testing.T) kv.Store{
		"memory": func(t *testing.T) kv.Store { return kv.NewMemoryStore(nil) },
		"redis": func(t *testing.T) kv.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return kv.NewRedisStore(client, time.Second)
		},
	}
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inner := setup(t)
			gated := newGatedStore(inner, "session:")
			m := NewManager(gated, &fakeTokens{}, Config{TouchOnValidate: true})

			c, err := m.Create(ctx, alice, Device{}, time.Hour)
			require.NoError(t, err)
			sid := c.Session.ID

			gated.armed.Store(true)
			validated := make(chan error, 1)
			go func() {
				_, err := m.Validate(ctx, sid)
				validated <- err
			}()
			<-gated.reached

			// the pending Validate already holds the live record
			existed, err := m.Invalidate(ctx, sid)
			require.NoError(t, err)
			require.True(t, existed)

			close(gated.release)
			require.ErrorIs(t, <-validated, ErrSessionExpired)

			_, err = m.Validate(ctx, sid)
			require.ErrorIs(t, err, ErrSessionExpired)
			ok, err := inner.Exists(ctx, "session:"+string(sid))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestTouchKeepsRemainingLifetime(t *testing.T) {
	ctx := context.Background()
	m, clock, _, store := newTestManager(t, Config{TouchOnValidate: true})

	c, err := m.Create(ctx, alice, Device{}, time.Hour)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	sess, err := m.Validate(ctx, c.Session.ID)
	require.NoError(t, err)
	require.Equal(t, clock.Now().UTC(), sess.LastAccessedAt)

	ttl, err := store.TTL(ctx, "session:"+string(c.Session.ID))
	require.NoError(t, err)
	require.Equal(t, 50*time.Minute, ttl)

	stored, err := m.Peek(ctx, c.Session.ID)
	require.NoError(t, err)
	require.True(t, stored.LastAccessedAt.Equal(clock.Now()))
}
