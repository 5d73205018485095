package tokenauth

import (
	"context"
	"testing"
	"time"
)

func newBenchmarkEngine(b *testing.B) *engineFixture {
	b.Helper()
	f := newEngineFixture(b, func(c *Config) {
		c.Metrics.Enabled = false
		c.Audit.Enabled = false
		c.JWT.AccessTTL = 10 * time.Minute
		c.JWT.RefreshTTL = time.Hour
	})
	f.addAccount(b, 1, "alice@example.com", "correct-password-123")
	return f
}

func BenchmarkValidateAccess(b *testing.B) {
	f := newBenchmarkEngine(b)
	res := f.login(b, "alice@example.com", "correct-password-123", "")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.ValidateAccess(ctx, res.AccessToken); err != nil {
			b.Fatalf("validate: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	f := newBenchmarkEngine(b)
	token := f.login(b, "alice@example.com", "correct-password-123", "").RefreshToken
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := f.engine.Refresh(ctx, token)
		if err != nil {
			b.Fatalf("refresh: %v", err)
		}
		token = res.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	f := newBenchmarkEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Login(ctx, LoginInput{Identity: "alice@example.com", Password: "correct-password-123"}); err != nil {
			b.Fatalf("login: %v", err)
		}
	}
}
