// Package lockout tracks failed authentication attempts per credential
// identity and applies a fixed lockout once a threshold is reached.
//
// Each identity moves through three states:
//
//	CLEAN   no record
//	WARNING 1..MaxAttempts-1 recorded failures
//	LOCKED  MaxAttempts or more failures, LockedUntil set
//
// LOCKED falls back to CLEAN lazily, on the first Check after LockedUntil.
// There is no background sweep and no exponential backoff. A successful
// login deletes the record.
//
// The failure count is an atomic counter at failed_attempts:{identity}
// whose window opens with the first failure and lasts the lockout duration.
// The lock deadline is kept separately at failed_attempts_lock:{identity},
// written once when the count reaches the threshold. A failure racing
// another failure can therefore only add to the count; it never clears a
// lock.
package lockout
