package tokenauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aivle-project/tokenauth/denylist"
	"github.com/aivle-project/tokenauth/session"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
		{fmt.Errorf("wrapped: %w", ErrLoginLocked), "LOGIN_LOCKED"},
		{ErrEmailVerificationRequired, "EMAIL_VERIFICATION_REQUIRED"},
		{ErrPasswordExpired, "PASSWORD_EXPIRED"},
		{session.ErrInvalidRefreshToken, "INVALID_REFRESH_TOKEN"},
		{ErrPasswordReuse, "PASSWORD_REUSE"},
		{ErrPasswordPolicy, "PASSWORD_POLICY"},
		{ErrTokenRevoked, "TOKEN_REVOKED"},
		{ErrTokenInvalid, "INVALID_TOKEN"},
		{ErrRateLimited, "RATE_LIMITED"},
		{ErrEngineNotReady, "ENGINE_NOT_READY"},
		{fmt.Errorf("%w: dial tcp", session.ErrRedisUnavailable), ""},
		{errors.New("something else"), ""},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsInfrastructure(t *testing.T) {
	infra := []error{
		fmt.Errorf("%w: pg", ErrStoreUnavailable),
		fmt.Errorf("%w: x", session.ErrDurableUnavailable),
		fmt.Errorf("%w: x", denylist.ErrRedisUnavailable),
	}
	for _, err := range infra {
		if !IsInfrastructure(err) {
			t.Fatalf("expected %v to be infrastructure", err)
		}
	}
	for _, err := range []error{nil, ErrInvalidCredentials, ErrLoginLocked, ErrTokenRevoked} {
		if IsInfrastructure(err) {
			t.Fatalf("expected %v not to be infrastructure", err)
		}
	}
}

func TestMapVerifyError(t *testing.T) {
	if !errors.Is(mapVerifyError(ErrAccountDisabled), ErrEmailVerificationRequired) {
		t.Fatal("disabled must map to email verification required")
	}
	if !errors.Is(mapVerifyError(fmt.Errorf("x: %w", ErrCredentialsExpired)), ErrPasswordExpired) {
		t.Fatal("expired must map to password expired")
	}
	if !errors.Is(mapVerifyError(ErrBadCredential), ErrInvalidCredentials) {
		t.Fatal("bad credential must map to invalid credentials")
	}
	if isVerifierOutcome(errors.New("db down")) {
		t.Fatal("arbitrary errors are not verifier outcomes")
	}
}
