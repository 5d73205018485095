package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailurePrincipal
	RefreshFailureLoggedOut
	RefreshFailureNextToken
	RefreshFailureRotate
	RefreshFailureDisabled
	RefreshFailureIssueAccess
	RefreshFailureStore
)

// RefreshResult carries either the issued tokens or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	UserID       int64
	Principal    Principal
	Record       *session.Record
	AccessToken  string
	AccessClaims *jwt.AccessClaims
	RefreshToken string
}

// RefreshErrors carries host-level sentinel errors used by the refresh flow.
type RefreshErrors struct {
	EngineNotReady      error
	InvalidRefreshToken error
	PrincipalNotFound   error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Store         RefreshStore
	Denylist      Denylist
	LoadPrincipal func(ctx context.Context, userID int64) (Principal, error)
	Issuer        TokenIssuer
	Warn          func(string, ...any)
	Errors        RefreshErrors

	// WellFormed, when set, rejects tokens that cannot have been issued
	// without touching the stores.
	WellFormed func(token string) bool
}

// RunRefresh validates refreshToken, checks it against the owner's
// logout-all marker, rotates it and mints a new access token bound to the
// rotated record's device.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Store == nil || deps.Denylist == nil || deps.LoadPrincipal == nil || deps.Issuer == nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.EngineNotReady}
	}
	warn := warnOrNop(deps.Warn)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || (deps.WellFormed != nil && !deps.WellFormed(refreshToken)) {
		return RefreshResult{Failure: RefreshFailureInvalid, Err: deps.Errors.InvalidRefreshToken}
	}

	rec, err := deps.Store.LoadValidToken(ctx, refreshToken)
	if err != nil {
		return storeFailure(err, deps.Errors.InvalidRefreshToken, RefreshFailureInvalid, 0)
	}

	principal, err := deps.LoadPrincipal(ctx, rec.UserID)
	if err != nil {
		if deps.Errors.PrincipalNotFound != nil && errors.Is(err, deps.Errors.PrincipalNotFound) {
			return RefreshResult{Failure: RefreshFailurePrincipal, Err: deps.Errors.InvalidRefreshToken, UserID: rec.UserID, Record: rec}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: rec.UserID, Record: rec}
	}

	markedAt, marked, err := deps.Denylist.LogoutAllAt(ctx, principal.UUID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: rec.UserID, Principal: principal, Record: rec}
	}
	// Same millisecond counts as before the marker.
	if marked && !rec.LastUsed().After(markedAt) {
		if revokeErr := deps.Store.RevokeToken(ctx, refreshToken); revokeErr != nil {
			warn("refresh: revoking logged-out token failed", "user_id", rec.UserID, "error", revokeErr)
		}
		return RefreshResult{Failure: RefreshFailureLoggedOut, Err: deps.Errors.InvalidRefreshToken, UserID: rec.UserID, Principal: principal, Record: rec}
	}

	next, err := deps.Issuer.CreateRefreshToken()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextToken, Err: err, UserID: rec.UserID, Principal: principal, Record: rec}
	}

	rotated, err := deps.Store.RotateToken(ctx, refreshToken, next)
	if err != nil {
		res := storeFailure(err, deps.Errors.InvalidRefreshToken, RefreshFailureRotate, rec.UserID)
		res.Principal = principal
		res.Record = rec
		return res
	}

	if !principal.Enabled {
		if revokeErr := deps.Store.RevokeToken(ctx, next); revokeErr != nil {
			warn("refresh: revoking token of disabled principal failed", "user_id", rec.UserID, "error", revokeErr)
		}
		return RefreshResult{Failure: RefreshFailureDisabled, Err: deps.Errors.InvalidRefreshToken, UserID: rec.UserID, Principal: principal, Record: rotated}
	}

	access, claims, err := deps.Issuer.CreateAccessToken(principal, rotated.DeviceID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, UserID: rec.UserID, Principal: principal, Record: rotated}
	}

	return RefreshResult{
		Failure:      RefreshFailureNone,
		UserID:       rec.UserID,
		Principal:    principal,
		Record:       rotated,
		AccessToken:  access,
		AccessClaims: claims,
		RefreshToken: next,
	}
}

func storeFailure(err, invalid error, kind RefreshFailureKind, userID int64) RefreshResult {
	if invalid != nil && errors.Is(err, invalid) {
		return RefreshResult{Failure: kind, Err: invalid, UserID: userID}
	}
	return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: userID}
}
