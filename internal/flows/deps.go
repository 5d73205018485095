package flows

import (
	"context"
	"time"

	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/session"
)

// Principal is the authenticated subject as seen by the flows. ID keys the
// refresh-token records, UUID is the access-token subject and the logout-all
// user key.
type Principal struct {
	ID              int64
	UUID            string
	Email           string
	Roles           []string
	Enabled         bool
	PasswordExpired bool
}

// LoginGuard is the brute-force lockout used by the login flow.
type LoginGuard interface {
	ValidateNotLocked(ctx context.Context, identity string) error
	RecordFailure(ctx context.Context, identity string) (bool, error)
	ClearFailures(ctx context.Context, identity string) error
}

// TokenIssuer mints access and refresh tokens.
type TokenIssuer interface {
	CreateAccessToken(p Principal, deviceID string) (string, *jwt.AccessClaims, error)
	CreateRefreshToken() (string, error)
}

// RefreshStore is the dual-store refresh-token lifecycle.
type RefreshStore interface {
	StoreToken(ctx context.Context, userID int64, token, deviceID, deviceInfo, ip string) (*session.Record, error)
	LoadValidToken(ctx context.Context, token string) (*session.Record, error)
	RotateToken(ctx context.Context, oldToken, newToken string) (*session.Record, error)
	RevokeToken(ctx context.Context, token string) error
	RevokeAllByUserID(ctx context.Context, userID int64) (int64, error)
}

// Denylist blocks access tokens by jti and by logout-all instant.
type Denylist interface {
	Blacklist(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	MarkLogoutAll(ctx context.Context, userKey string, at time.Time) error
	LogoutAllAt(ctx context.Context, userKey string) (time.Time, bool, error)
}

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Logout   LogoutDeps
	Password PasswordDeps
	Validate ValidateDeps
}

func warnOrNop(warn func(string, ...any)) func(string, ...any) {
	if warn == nil {
		return func(string, ...any) {}
	}
	return warn
}
