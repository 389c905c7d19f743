package rate

import "errors"

var (
	// ErrRateLimited reports that a window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter storage failures.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
