// Package rate provides fixed-window request throttles backed by kv.Store
// counters.
//
// # Window semantics
//
// Fixed-window counters: Incr with the TTL applied on the first hit only.
// Key prefixes:
//   - rl:login:ip:     failed logins per client IP
//   - rl:register:ip:  registration attempts per client IP
//   - rl:refresh:sid:  refresh attempts per session
//
// Per-identity lockout lives in package lockout, not here.
package rate
