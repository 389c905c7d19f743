// Package config loads authd settings from the environment and an optional
// .env file using Viper, and maps them onto authcore.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/authcore"
)

// Config holds the process settings read from the environment.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// MetricsAddr serves /metrics on a separate listener when set; empty
	// mounts /metrics on the API server.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// Env is "development" or "production". Development enables
	// human-readable logs.
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// DatabaseURL is the Postgres DSN for the user store; empty keeps users
	// in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// Ed25519 keys are PEM text or a path to a PEM file.
	JWTAccessPrivateKey  string        `mapstructure:"JWT_ACCESS_PRIVATE_KEY"`
	JWTAccessPublicKey   string        `mapstructure:"JWT_ACCESS_PUBLIC_KEY"`
	JWTRefreshPrivateKey string        `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string        `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`
	JWTIssuer            string        `mapstructure:"JWT_ISSUER"`
	JWTAudience          string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL         time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL        time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	SessionRememberMeTTL time.Duration `mapstructure:"SESSION_REMEMBER_ME_TTL"`
	MaxSessionsPerUser   int           `mapstructure:"MAX_SESSIONS_PER_USER"`

	LockoutMaxAttempts int           `mapstructure:"LOCKOUT_MAX_ATTEMPTS"`
	LockoutDuration    time.Duration `mapstructure:"LOCKOUT_DURATION"`

	PasswordAlgorithm string `mapstructure:"PASSWORD_ALGORITHM"`
	BcryptCost        int    `mapstructure:"BCRYPT_COST"`

	IPThrottle bool `mapstructure:"IP_THROTTLE"`
	AuditLog   bool `mapstructure:"AUDIT_LOG"`
	// RefreshCookie also delivers refresh tokens as an HttpOnly cookie.
	RefreshCookie bool `mapstructure:"REFRESH_COOKIE"`
}

// Load reads envFile (if present), then the environment. Env vars override
// the file. A missing file is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read %s: %w", envFile, err)
			}
		}
	}

	v.AutomaticEnv()

	def := authcore.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SIGNING_METHOD", def.JWT.SigningMethod)
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ACCESS_PRIVATE_KEY", "")
	v.SetDefault("JWT_ACCESS_PUBLIC_KEY", "")
	v.SetDefault("JWT_REFRESH_PRIVATE_KEY", "")
	v.SetDefault("JWT_REFRESH_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", def.JWT.Issuer)
	v.SetDefault("JWT_AUDIENCE", def.JWT.Audience)
	v.SetDefault("JWT_ACCESS_TTL", def.JWT.AccessTTL)
	v.SetDefault("JWT_REFRESH_TTL", def.JWT.RefreshTTL)
	v.SetDefault("SESSION_TTL", def.Session.DefaultTTL)
	v.SetDefault("SESSION_REMEMBER_ME_TTL", def.Session.RememberMeTTL)
	v.SetDefault("MAX_SESSIONS_PER_USER", def.Session.MaxPerUser)
	v.SetDefault("LOCKOUT_MAX_ATTEMPTS", def.Lockout.MaxAttempts)
	v.SetDefault("LOCKOUT_DURATION", def.Lockout.Duration)
	v.SetDefault("PASSWORD_ALGORITHM", def.Password.Algorithm)
	v.SetDefault("BCRYPT_COST", def.Password.BcryptCost)
	v.SetDefault("IP_THROTTLE", def.RateLimit.EnableIPThrottle)
	v.SetDefault("AUDIT_LOG", false)
	v.SetDefault("REFRESH_COOKIE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	return &cfg, nil
}

// Development reports whether APP_ENV selects development mode.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

// Engine maps the settings onto an engine configuration and validates it.
func (c *Config) Engine() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.JWT.SigningMethod = strings.ToLower(c.JWTSigningMethod)
	cfg.JWT.AccessSecret = []byte(c.JWTAccessSecret)
	cfg.JWT.RefreshSecret = []byte(c.JWTRefreshSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.AccessTTL = c.JWTAccessTTL
	cfg.JWT.RefreshTTL = c.JWTRefreshTTL

	keys := []struct {
		env string
		raw string
		dst *[]byte
	}{
		{"JWT_ACCESS_PRIVATE_KEY", c.JWTAccessPrivateKey, &cfg.JWT.AccessPrivateKey},
		{"JWT_ACCESS_PUBLIC_KEY", c.JWTAccessPublicKey, &cfg.JWT.AccessPublicKey},
		{"JWT_REFRESH_PRIVATE_KEY", c.JWTRefreshPrivateKey, &cfg.JWT.RefreshPrivateKey},
		{"JWT_REFRESH_PUBLIC_KEY", c.JWTRefreshPublicKey, &cfg.JWT.RefreshPublicKey},
	}
	for _, k := range keys {
		b, err := pemOrFile(k.raw)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("config: %s: %w", k.env, err)
		}
		*k.dst = b
	}

	cfg.Session.DefaultTTL = c.SessionTTL
	cfg.Session.RememberMeTTL = c.SessionRememberMeTTL
	cfg.Session.MaxPerUser = c.MaxSessionsPerUser
	cfg.Lockout.MaxAttempts = c.LockoutMaxAttempts
	cfg.Lockout.Duration = c.LockoutDuration
	cfg.Password.Algorithm = strings.ToLower(c.PasswordAlgorithm)
	cfg.Password.BcryptCost = c.BcryptCost
	cfg.RateLimit.EnableIPThrottle = c.IPThrottle
	cfg.Audit.Enabled = c.AuditLog

	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func pemOrFile(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "-----BEGIN") {
		return []byte(raw), nil
	}
	return os.ReadFile(raw)
}
