// Package kv is the key-value storage boundary for authcore.
//
// Every piece of cross-request state (sessions, refresh-token records, the
// access-token blacklist, failed-attempt counters) lives behind [Store]. Two
// backends exist: [RedisStore] for production and [MemoryStore] for tests and
// single-process fallback. [Open] selects one at startup with a single
// connectivity probe; the choice is never revisited per call.
//
// # Error contract
//
// Absence is reported as [ErrNotFound]. Any backend failure, including an
// operation exceeding its timeout, is wrapped with [ErrUnavailable]. Callers
// must never treat ErrUnavailable as absence.
package kv
