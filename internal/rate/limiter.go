package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableLoginThrottle   bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshPerIP       int
	RefreshWindow         time.Duration
}

// Limiter enforces per-IP request budgets for the login and refresh flows
// using fixed-window Redis counters. It is independent of the per-identity
// lockout, which only counts failures.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin counts one login request from ip and returns ErrRateLimited
// once the window budget is exceeded. Empty IPs are not throttled.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableLoginThrottle || ip == "" {
		return nil
	}
	return l.hit(ctx, loginIPKey(ip), l.config.MaxLoginPerIP, l.config.LoginWindow)
}

// CheckRefresh counts one refresh request from ip.
func (l *Limiter) CheckRefresh(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableRefreshThrottle || ip == "" {
		return nil
	}
	return l.hit(ctx, refreshIPKey(ip), l.config.MaxRefreshPerIP, l.config.RefreshWindow)
}

// LoginHits returns the current login counter for ip.
func (l *Limiter) LoginHits(ctx context.Context, ip string) (int, error) {
	count, err := l.redis.Get(ctx, loginIPKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) hit(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginIPKey(ip string) string {
	return "rate:login:ip:" + ip
}

func refreshIPKey(ip string) string {
	return "rate:refresh:ip:" + ip
}
