// Package denylist tracks revoked access tokens in Redis.
//
// Two kinds of entries exist. A per-jti entry blocks one access token until
// its natural expiry and is never deleted explicitly. A per-user logout-all
// marker records the instant of the latest "log out everywhere" and has no
// expiry; tokens issued or last used at or before it are dead.
//
//	Redis keys: blacklist:access:<jti> (TTL = remaining token life), logout-all:<userKey> (no TTL)
package denylist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aivle-project/tokenauth/session"
)

// ErrRedisUnavailable wraps Redis failures of the denylist.
var ErrRedisUnavailable = errors.New("denylist redis unavailable")

const (
	accessKeyPrefix    = "blacklist:access:"
	logoutAllKeyPrefix = "logout-all:"
	sentinel           = "1"
)

// Store is the Redis-backed access token denylist.
type Store struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewStore creates a denylist [Store].
func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{redis: rdb, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// AccessKey returns the denylist key for a jti.
func AccessKey(jti string) string {
	return accessKeyPrefix + jti
}

// LogoutAllKey returns the logout-all marker key for a user key.
func LogoutAllKey(userKey string) string {
	return logoutAllKeyPrefix + userKey
}

// Blacklist blocks jti until expiresAt. Already expired tokens and blank
// identifiers are ignored.
func (s *Store) Blacklist(ctx context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, AccessKey(jti), sentinel, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether jti is currently blocked.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, AccessKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// MarkLogoutAll overwrites the user's logout-all marker with at, stored as
// epoch milliseconds.
func (s *Store) MarkLogoutAll(ctx context.Context, userKey string, at time.Time) error {
	if err := s.redis.Set(ctx, LogoutAllKey(userKey), at.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LogoutAllAt returns the user's logout-all marker. The boolean is false when
// no marker exists. A value that is not a positive number is reported as
// [ErrRedisUnavailable]. Markers written in epoch seconds are accepted.
func (s *Store) LogoutAllAt(ctx context.Context, userKey string) (time.Time, bool, error) {
	raw, err := s.redis.Get(ctx, LogoutAllKey(userKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		// An unreadable marker cannot prove earlier tokens are still valid.
		return time.Time{}, false, fmt.Errorf("%w: corrupt logout-all marker %q", ErrRedisUnavailable, raw)
	}
	return time.UnixMilli(session.NormalizeEpochMillis(v)), true, nil
}
