package authcore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/internal/clocktest"
)

var (
	testAccessSecret  = []byte("access-secret-0123456789abcdefghij")
	testRefreshSecret = []byte("refresh-secret-0123456789abcdefghi")
)

// fastHasher keeps engine tests quick; the bcrypt primitive is covered in
// the password package.
type fastHasher struct{}

func (fastHasher) Hash(plaintext string) (string, error) { return "fast:" + plaintext, nil }

func (fastHasher) Verify(plaintext, hashed string) (bool, error) {
	return hashed == "fast:"+plaintext, nil
}

type testUsers struct {
	mu      sync.Mutex
	byEmail map[ids.Email]*UserRecord
	byID    map[ids.UserID]*UserRecord
	next    int
	failErr error
}

func newTestUsers() *testUsers {
	return &testUsers{
		byEmail: make(map[ids.Email]*UserRecord),
		byID:    make(map[ids.UserID]*UserRecord),
	}
}

func (u *testUsers) FindByEmail(_ context.Context, email ids.Email) (*UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failErr != nil {
		return nil, u.failErr
	}
	rec, ok := u.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *rec
	return &cp, nil
}

func (u *testUsers) Get(_ context.Context, id ids.UserID) (*UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *rec
	return &cp, nil
}

func (u *testUsers) Create(_ context.Context, in NewUser) (*UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failErr != nil {
		return nil, u.failErr
	}
	if _, ok := u.byEmail[in.Email]; ok {
		return nil, ErrUserExists
	}
	u.next++
	rec := &UserRecord{
		ID:             ids.UserID("user-" + strconv.Itoa(u.next)),
		Email:          in.Email,
		HashedPassword: in.HashedPassword,
		DisplayName:    in.DisplayName,
	}
	u.byEmail[rec.Email] = rec
	u.byID[rec.ID] = rec
	cp := *rec
	return &cp, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = testAccessSecret
	cfg.JWT.RefreshSecret = testRefreshSecret
	return cfg
}

type testEnv struct {
	engine *Engine
	clock  *clocktest.Clock
	redis  *miniredis.Miniredis
	users  *testUsers
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Store.OpTimeout = 500 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	clock := clocktest.New(time.Time{})
	users := newTestUsers()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithHasher(fastHasher{}).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, clock: clock, redis: mr, users: users}
}

func (env *testEnv) register(t testing.TB, email, password string) *AuthSuccess {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{Email: email, Password: password, DisplayName: "Test"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}

func (env *testEnv) login(t *testing.T, email, password string) *AuthSuccess {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}
