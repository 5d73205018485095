package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginAttemptConfig holds the brute-force protection policy.
type LoginAttemptConfig struct {
	MaxFailures   int
	LockDuration  time.Duration
	FailureWindow time.Duration
}

var (
	// ErrLoginLocked indicates the identity is inside an active lock window.
	ErrLoginLocked = errors.New("login locked")
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

const (
	failCountKeyPrefix = "login:fail-count:"
	lockKeyPrefix      = "login:lock:"
)

// The counter gets its window on the first failure only, so the window is
// anchored at the first failure. Reaching the threshold swaps the counter for
// a lock marker in the same script.
const recordFailureScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
  redis.call("DEL", KEYS[1])
  return {count, 1}
end
return {count, 0}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// LoginAttemptGuard tracks failed logins per identity and locks the identity
// once MaxFailures is reached inside FailureWindow.
//
//	Redis keys: login:fail-count:<identity>, login:lock:<identity>
type LoginAttemptGuard struct {
	redis  redis.UniversalClient
	config LoginAttemptConfig
}

// NewLoginAttemptGuard creates a guard. Non-positive values fall back to
// 5 failures, a 15 minute lock and a 15 minute window.
func NewLoginAttemptGuard(redisClient redis.UniversalClient, cfg LoginAttemptConfig) *LoginAttemptGuard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 15 * time.Minute
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 15 * time.Minute
	}
	return &LoginAttemptGuard{redis: redisClient, config: cfg}
}

// NormalizeIdentity trims and lowercases an identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// FailCountKey returns the failure counter key for an identity.
func FailCountKey(identity string) string {
	return failCountKeyPrefix + NormalizeIdentity(identity)
}

// LockKey returns the lock marker key for an identity.
func LockKey(identity string) string {
	return lockKeyPrefix + NormalizeIdentity(identity)
}

// ValidateNotLocked returns ErrLoginLocked while a lock marker exists.
func (g *LoginAttemptGuard) ValidateNotLocked(ctx context.Context, identity string) error {
	n, err := g.redis.Exists(ctx, LockKey(identity)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if n > 0 {
		return ErrLoginLocked
	}
	return nil
}

// RecordFailure counts one failed attempt and reports whether it triggered a
// lock. The increment and the threshold check run in one script, so
// concurrent failures for the same identity lock exactly once.
func (g *LoginAttemptGuard) RecordFailure(ctx context.Context, identity string) (bool, error) {
	res, err := recordFailureLua.Run(
		ctx,
		g.redis,
		[]string{FailCountKey(identity), LockKey(identity)},
		g.config.FailureWindow.Milliseconds(),
		g.config.MaxFailures,
		g.config.LockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("%w: unexpected script reply %v", ErrLockoutUnavailable, res)
	}
	return res[1] == 1, nil
}

// ClearFailures drops the failure counter after a successful login.
func (g *LoginAttemptGuard) ClearFailures(ctx context.Context, identity string) error {
	if err := g.redis.Del(ctx, FailCountKey(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure counter for an identity.
func (g *LoginAttemptGuard) FailureCount(ctx context.Context, identity string) (int, error) {
	count, err := g.redis.Get(ctx, FailCountKey(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}

// Unlock removes both the lock marker and the counter. Used by operators.
func (g *LoginAttemptGuard) Unlock(ctx context.Context, identity string) error {
	if err := g.redis.Del(ctx, FailCountKey(identity), LockKey(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
