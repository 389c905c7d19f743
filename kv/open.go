package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultProbeTimeout bounds the startup connectivity probe.
const DefaultProbeTimeout = 2 * time.Second

// OpenOptions configures backend selection.
type OpenOptions struct {
	OpTimeout    time.Duration
	ProbeTimeout time.Duration
	// Now drives TTL evaluation for the memory fallback.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Open selects the store backend once, at startup. When client is non-nil
// and answers PING within the probe timeout, a [RedisStore] is returned.
// Otherwise the in-process [MemoryStore] is used and a warning is logged:
// the fallback keeps a single instance serving but does not share state
// across replicas.
func Open(ctx context.Context, client redis.UniversalClient, opts OpenOptions) (Store, Backend) {
	if client != nil {
		probeTimeout := opts.ProbeTimeout
		if probeTimeout <= 0 {
			probeTimeout = DefaultProbeTimeout
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := client.Ping(probeCtx).Err()
		cancel()
		if err == nil {
			opts.Logger.Info().Str("backend", string(BackendRedis)).Msg("kv store selected")
			return NewRedisStore(client, opts.OpTimeout), BackendRedis
		}

		opts.Logger.Warn().Err(err).Str("backend", string(BackendMemory)).
			Msg("redis probe failed; falling back to in-process store")
	} else {
		opts.Logger.Warn().Str("backend", string(BackendMemory)).
			Msg("no redis client configured; using in-process store")
	}

	return NewMemoryStore(opts.Now), BackendMemory
}
