package tokenauth

import (
	"time"

	"github.com/aivle-project/tokenauth/internal"
	"github.com/aivle-project/tokenauth/jwt"
)

// TokenIssuer mints signed access tokens and opaque refresh tokens.
type TokenIssuer struct {
	jwt        *jwt.Manager
	refreshTTL time.Duration
}

// NewTokenIssuer wraps manager. refreshTTL is only reported, refresh token
// lifetime is enforced by the refresh-token store.
func NewTokenIssuer(manager *jwt.Manager, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{jwt: manager, refreshTTL: refreshTTL}
}

// CreateAccessToken signs an access token for p bound to deviceID.
func (i *TokenIssuer) CreateAccessToken(p Principal, deviceID string) (string, *jwt.AccessClaims, error) {
	return i.jwt.CreateAccess(jwt.AccessInput{
		Subject:  p.UUID,
		UserID:   p.ID,
		Email:    p.Email,
		Roles:    p.Roles,
		DeviceID: deviceID,
	})
}

// CreateRefreshToken returns a fresh opaque refresh token.
func (i *TokenIssuer) CreateRefreshToken() (string, error) {
	return internal.NewRefreshToken()
}

// AccessTTLSeconds returns the access-token lifetime in seconds.
func (i *TokenIssuer) AccessTTLSeconds() int64 {
	return int64(i.jwt.AccessTTL() / time.Second)
}

// RefreshTTLSeconds returns the refresh-token lifetime in seconds.
func (i *TokenIssuer) RefreshTTLSeconds() int64 {
	return int64(i.refreshTTL / time.Second)
}
