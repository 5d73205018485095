package tokenauth

import (
	"errors"

	"github.com/aivle-project/tokenauth/denylist"
	"github.com/aivle-project/tokenauth/internal/limiters"
	"github.com/aivle-project/tokenauth/internal/rate"
	"github.com/aivle-project/tokenauth/session"
)

var (
	// ErrInvalidCredentials is returned for an unknown identity or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailVerificationRequired is returned when the account is not enabled yet.
	ErrEmailVerificationRequired = errors.New("email verification required")
	// ErrPasswordExpired is returned when the account's credentials have expired.
	ErrPasswordExpired = errors.New("password expired")
	// ErrLoginLocked is returned while an identity is locked out.
	ErrLoginLocked = limiters.ErrLoginLocked
	// ErrInvalidRefreshToken covers unknown, revoked, expired, rotated and
	// logged-out refresh tokens alike.
	ErrInvalidRefreshToken = session.ErrInvalidRefreshToken
	ErrPasswordReuse       = errors.New("new password must differ from the current one")
	ErrPasswordPolicy      = errors.New("password does not satisfy policy")
	ErrTokenInvalid        = errors.New("invalid access token")
	ErrTokenRevoked        = errors.New("access token revoked")
	ErrRateLimited         = rate.ErrRateLimited
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrEngineNotReady      = errors.New("engine not initialized")

	// ErrStoreUnavailable marks infrastructure failures (Redis, PostgreSQL,
	// account provider). They never map to an authentication code.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Verifier outcomes. A CredentialVerifier returns one of these (possibly
// wrapped); any other error is treated as a backend failure.
var (
	ErrBadCredential      = errors.New("bad credential")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrCredentialsExpired = errors.New("credentials expired")
)

var infrastructureErrors = []error{
	ErrStoreUnavailable,
	session.ErrRedisUnavailable,
	session.ErrDurableUnavailable,
	denylist.ErrRedisUnavailable,
	limiters.ErrLockoutUnavailable,
	rate.ErrRedisUnavailable,
}

// IsInfrastructure reports whether err is a backend failure rather than an
// authentication outcome.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range infrastructureErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode returns the stable client-facing code for err, or "" when err is
// nil or an infrastructure failure.
func ErrorCode(err error) string {
	if err == nil || IsInfrastructure(err) {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrEmailVerificationRequired):
		return "EMAIL_VERIFICATION_REQUIRED"
	case errors.Is(err, ErrPasswordExpired):
		return "PASSWORD_EXPIRED"
	case errors.Is(err, ErrLoginLocked):
		return "LOGIN_LOCKED"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "INVALID_REFRESH_TOKEN"
	case errors.Is(err, ErrPasswordReuse):
		return "PASSWORD_REUSE"
	case errors.Is(err, ErrPasswordPolicy):
		return "PASSWORD_POLICY"
	case errors.Is(err, ErrTokenRevoked):
		return "TOKEN_REVOKED"
	case errors.Is(err, ErrTokenInvalid):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrEngineNotReady):
		return "ENGINE_NOT_READY"
	}
	return ""
}

// mapVerifyError turns a verifier outcome into the public login error.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return ErrEmailVerificationRequired
	case errors.Is(err, ErrCredentialsExpired):
		return ErrPasswordExpired
	default:
		return ErrInvalidCredentials
	}
}

func isVerifierOutcome(err error) bool {
	return errors.Is(err, ErrBadCredential) ||
		errors.Is(err, ErrAccountDisabled) ||
		errors.Is(err, ErrCredentialsExpired)
}
