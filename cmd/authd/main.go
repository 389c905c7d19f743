// Command authd serves the authcore HTTP API.
//
// Settings come from the environment and an optional .env file; see
// internal/config for the variable names. With -dev the server runs against
// an embedded miniredis and an in-memory user store, so it needs nothing
// else to start:
//
//	JWT_ACCESS_SECRET=... JWT_REFRESH_SECRET=... go run ./cmd/authd -dev
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/userstore"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional env file")
	dev := flag.Bool("dev", false, "use embedded redis and in-memory users")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg, *dev)

	if err := run(cfg, *dev, logger); err != nil {
		logger.Fatal().Err(err).Msg("authd exited")
	}
}

func newLogger(cfg *config.Config, dev bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if dev || cfg.Development() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "authd").Logger()
}

func run(cfg *config.Config, dev bool, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	// ---------- infrastructure ----------
	redisAddr := cfg.RedisAddr
	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return err
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		logger.Info().Str("addr", redisAddr).Msg("using embedded redis")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	users, closeUsers, err := openUserStore(ctx, cfg, dev, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	// ---------- engine ----------
	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithLogger(logger).
		WithLatencyHistograms(true)
	if cfg.AuditLog {
		builder = builder.WithAuditSink(authcore.NewLogAuditSink(logger.With().Str("stream", "audit").Logger()))
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	logger.Info().Str("backend", string(engine.Backend())).Msg("engine ready")

	// ---------- routes ----------
	mux := http.NewServeMux()
	httpapi.Register(mux, engine, httpapi.Options{
		RefreshCookie: cfg.RefreshCookie,
		SecureCookie:  !dev && !cfg.Development(),
		Logger:        logger,
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	servers := []*http.Server{newServer(cfg.HTTPAddr, mux)}
	if cfg.MetricsAddr == "" {
		mux.Handle("GET /metrics", prometheus.Handler(engine))
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", prometheus.Handler(engine))
		servers = append(servers, newServer(cfg.MetricsAddr, metricsMux))
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str("addr", srv.Addr).Msg("shutdown")
		}
	}
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func openUserStore(ctx context.Context, cfg *config.Config, dev bool, logger zerolog.Logger) (authcore.UserStore, func(), error) {
	if dev || cfg.DatabaseURL == "" {
		logger.Warn().Msg("using in-memory user store; users are lost on restart")
		return userstore.NewMemory(time.Now), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := userstore.NewPostgres(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("using postgres user store")
	return store, pool.Close, nil
}
