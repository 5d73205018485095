package main

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aivle-project/tokenauth"
)

type serverConfig struct {
	HTTPAddr       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DatabaseURL    string
	DBMaxConns     int32
	SentryDSN      string
	Environment    string
	PurgeInterval  time.Duration
	AdminEmail     string
	AdminPassword  string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownPeriod time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For header is honoured.
	TrustedProxies []netip.Prefix

	Auth tokenauth.Config
}

// loadConfig reads the process environment. A .env file, if present, has
// already been merged by godotenv.
func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		HTTPAddr:       envOrDefault("HTTP_ADDR", ":8080"),
		RedisAddr:      envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SentryDSN:      os.Getenv("SENTRY_DSN"),
		Environment:    envOrDefault("APP_ENV", "development"),
		AdminEmail:     os.Getenv("ADMIN_EMAIL"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		ShutdownPeriod: 10 * time.Second,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	maxConns, err := envInt("DB_MAX_CONNS", 10)
	if err != nil {
		return cfg, err
	}
	cfg.DBMaxConns = int32(maxConns)
	if cfg.PurgeInterval, err = envDuration("REFRESH_PURGE_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = envDuration("HTTP_READ_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = envDuration("HTTP_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.TrustedProxies, err = envPrefixes("TRUSTED_PROXIES"); err != nil {
		return cfg, err
	}

	auth := tokenauth.DefaultConfig()
	if auth.LoginAttempt.MaxFailures, err = envInt("AUTH_LOGIN_MAX_FAILURES", auth.LoginAttempt.MaxFailures); err != nil {
		return cfg, err
	}
	if auth.LoginAttempt.LockDuration, err = envDuration("AUTH_LOGIN_LOCK_DURATION", auth.LoginAttempt.LockDuration); err != nil {
		return cfg, err
	}
	if auth.LoginAttempt.FailureWindow, err = envDuration("AUTH_LOGIN_FAILURE_WINDOW", auth.LoginAttempt.FailureWindow); err != nil {
		return cfg, err
	}
	if auth.JWT.AccessTTL, err = envDuration("AUTH_ACCESS_TTL", auth.JWT.AccessTTL); err != nil {
		return cfg, err
	}
	if auth.JWT.RefreshTTL, err = envDuration("AUTH_REFRESH_TTL", auth.JWT.RefreshTTL); err != nil {
		return cfg, err
	}

	auth.JWT.SigningMethod = envOrDefault("AUTH_JWT_SIGNING_METHOD", auth.JWT.SigningMethod)
	auth.JWT.Issuer = os.Getenv("AUTH_JWT_ISSUER")
	auth.JWT.Audience = os.Getenv("AUTH_JWT_AUDIENCE")
	auth.JWT.KeyID = os.Getenv("AUTH_JWT_KEY_ID")
	if auth.JWT.PrivateKey, err = envKey("AUTH_JWT_PRIVATE_KEY"); err != nil {
		return cfg, err
	}
	if auth.JWT.PublicKey, err = envKey("AUTH_JWT_PUBLIC_KEY"); err != nil {
		return cfg, err
	}
	if auth.JWT.SigningMethod == "hs256" && len(auth.JWT.PublicKey) == 0 {
		auth.JWT.PublicKey = auth.JWT.PrivateKey
	}

	auth.RateLimit.EnableLoginThrottle = envBool("AUTH_LOGIN_THROTTLE", false)
	auth.RateLimit.EnableRefreshThrottle = envBool("AUTH_REFRESH_THROTTLE", false)
	auth.Audit.Enabled = envBool("AUTH_AUDIT", true)
	auth.Metrics.EnableLatencyHistograms = envBool("AUTH_LATENCY_HISTOGRAMS", true)

	if err := auth.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid auth config: %w", err)
	}
	cfg.Auth = auth
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// envPrefixes parses a comma-separated list of CIDRs or bare addresses. A bare
// address becomes a single-host prefix.
func envPrefixes(key string) ([]netip.Prefix, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	var out []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// envKey accepts PEM text as-is and anything else as standard base64.
func envKey(key string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(strings.ReplaceAll(v, `\n`, "\n")), nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: not PEM or base64: %w", key, err)
	}
	return b, nil
}
