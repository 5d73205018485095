package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aivle-project/tokenauth/jwt"
)

// LogoutDeps captures logout and logout-all dependencies.
type LogoutDeps struct {
	Store    RefreshStore
	Denylist Denylist
	Now      func() time.Time

	// WellFormed, when set, skips the revoke for tokens that cannot have
	// been issued.
	WellFormed func(token string) bool
}

// RunLogout revokes refreshToken when present and denylists the access
// token described by claims when present. Both steps run even if the first
// fails; their errors are joined.
func RunLogout(ctx context.Context, refreshToken string, claims *jwt.AccessClaims, deps LogoutDeps) error {
	var errs []error

	token := strings.TrimSpace(refreshToken)
	if token != "" && (deps.WellFormed == nil || deps.WellFormed(token)) {
		if err := deps.Store.RevokeToken(ctx, token); err != nil {
			errs = append(errs, err)
		}
	}

	if claims != nil && claims.ExpiresAt != nil {
		if err := deps.Denylist.Blacklist(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RunLogoutAll revokes every refresh token of userID and then records the
// logout-all instant under userKey so outstanding access tokens die too. It
// returns the number of sessions revoked.
//
// ATOMICITY NOTE: a login that lands between the two steps keeps its refresh
// token until it is next presented; at that point its last-used instant is
// compared with the marker.
func RunLogoutAll(ctx context.Context, userID int64, userKey string, deps LogoutDeps) (int64, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	n, err := deps.Store.RevokeAllByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}

	if strings.TrimSpace(userKey) == "" {
		return n, nil
	}
	if err := deps.Denylist.MarkLogoutAll(ctx, userKey, now()); err != nil {
		return n, err
	}
	return n, nil
}
