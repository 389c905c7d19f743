package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secrets", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "missing access secret",
			mutate:    func(c *Config) { c.JWT.AccessSecret = nil },
			wantValid: false,
		},
		{
			name:      "short refresh secret",
			mutate:    func(c *Config) { c.JWT.RefreshSecret = []byte("too-short") },
			wantValid: false,
		},
		{
			name:      "shared secrets",
			mutate:    func(c *Config) { c.JWT.RefreshSecret = c.JWT.AccessSecret },
			wantValid: false,
		},
		{
			name:      "refresh ttl not above access ttl",
			mutate:    func(c *Config) { c.JWT.RefreshTTL = c.JWT.AccessTTL },
			wantValid: false,
		},
		{
			name:      "jwt leeway invalid",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "jwt signing invalid",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "remember me shorter than default",
			mutate:    func(c *Config) { c.Session.RememberMeTTL = time.Hour },
			wantValid: false,
		},
		{
			name:      "session cap disabled",
			mutate:    func(c *Config) { c.Session.MaxPerUser = -1 },
			wantValid: true,
		},
		{
			name:      "session cap zero",
			mutate:    func(c *Config) { c.Session.MaxPerUser = 0 },
			wantValid: false,
		},
		{
			name:      "lockout attempts zero",
			mutate:    func(c *Config) { c.Lockout.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "bcrypt cost too low",
			mutate:    func(c *Config) { c.Password.BcryptCost = 4 },
			wantValid: false,
		},
		{
			name:      "argon2id accepted",
			mutate:    func(c *Config) { c.Password.Algorithm = "argon2id"; c.Password.MaxBytes = 256 },
			wantValid: true,
		},
		{
			name:      "bcrypt max bytes over 72",
			mutate:    func(c *Config) { c.Password.MaxBytes = 100 },
			wantValid: false,
		},
		{
			name: "ip throttle without limits",
			mutate: func(c *Config) {
				c.RateLimit.EnableIPThrottle = true
				c.RateLimit.MaxLoginPerIP = 0
			},
			wantValid: false,
		},
		{
			name:      "zero user store timeout",
			mutate:    func(c *Config) { c.Store.UserStoreTimeout = 0 },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigEd25519(t *testing.T) {
	accessPub, accessPriv, _ := ed25519.GenerateKey(rand.Reader)
	refreshPub, refreshPriv, _ := ed25519.GenerateKey(rand.Reader)

	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "ed25519"
	cfg.JWT.AccessPrivateKey = accessPriv
	cfg.JWT.AccessPublicKey = accessPub
	cfg.JWT.RefreshPrivateKey = refreshPriv
	cfg.JWT.RefreshPublicKey = refreshPub
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	e, err := New().WithConfig(cfg).WithUserStore(newTestUsers()).WithHasher(fastHasher{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	res, err := e.Register(t.Context(), RegisterRequest{Email: "ed@example.com", Password: "s3cretpass"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.Authenticate(t.Context(), res.AccessToken); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestWithConfigCopiesSecrets(t *testing.T) {
	cfg := testConfig()
	secret := append([]byte(nil), cfg.JWT.AccessSecret...)
	cfg.JWT.AccessSecret = secret

	b := New().WithConfig(cfg)
	secret[0] = 'X'
	if b.config.JWT.AccessSecret[0] == 'X' {
		t.Fatal("builder must not alias caller secrets")
	}
}
