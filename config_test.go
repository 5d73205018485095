package tokenauth

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "ed25519 without keys invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "hs256 short secret invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("too-short")
			},
			wantValid: false,
		},
		{
			name: "signing method invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "refresh shorter than access invalid",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "negative leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero max failures invalid",
			mutate: func(c *Config) {
				c.LoginAttempt.MaxFailures = 0
			},
			wantValid: false,
		},
		{
			name: "zero lock duration invalid",
			mutate: func(c *Config) {
				c.LoginAttempt.LockDuration = 0
			},
			wantValid: false,
		},
		{
			name: "login throttle without budget invalid",
			mutate: func(c *Config) {
				c.RateLimit.EnableLoginThrottle = true
				c.RateLimit.MaxLoginPerIP = 0
			},
			wantValid: false,
		},
		{
			name: "disabled refresh throttle ignores budget",
			mutate: func(c *Config) {
				c.RateLimit.MaxRefreshPerIP = 0
			},
			wantValid: true,
		},
		{
			name: "weak argon2 memory invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "min password above max invalid",
			mutate: func(c *Config) {
				c.Password.MinPasswordBytes = 64
				c.Password.MaxPasswordBytes = 32
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigRequiresKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without signing keys must not validate")
	}
	if cfg.JWT.AccessTTL != 30*time.Minute || cfg.JWT.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("unexpected default TTLs %v / %v", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}
	if cfg.LoginAttempt.MaxFailures != 5 || cfg.LoginAttempt.LockDuration != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults %+v", cfg.LoginAttempt)
	}
}

func TestBuildConfigImmutabilityAgainstExternalMutation(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'X'

	if b.config.JWT.PrivateKey[0] == 'X' {
		t.Fatal("builder config key mutated from external config")
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
}
