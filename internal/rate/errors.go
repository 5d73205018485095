package rate

import "errors"

var (
	// ErrRateLimited is returned when a per-IP window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures of the limiter.
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
)
