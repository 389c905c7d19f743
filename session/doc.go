// Package session creates, validates, enumerates and invalidates logical
// login sessions and enforces a per-user session cap.
//
// # Store layout
//
//	session:{sessionId}      compact binary record, TTL = session lifetime
//	user_sessions:{userId}   set of the user's session ids
//
// The per-user index is maintained best-effort. Members whose record has
// expired are pruned lazily whenever the index is read.
//
// # Binary encoding
//
// Records carry a leading format version byte, length-prefixed strings and
// big-endian Unix-millisecond timestamps. Decode rejects unknown versions,
// trailing bytes and records violating ExpiresAt > CreatedAt.
//
// # Lifecycle
//
// ACTIVE sessions become GONE when they expire, are invalidated or are
// evicted by the cap. GONE is represented by absence; there are no
// tombstones.
package session
