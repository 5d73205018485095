package flows

import (
	"context"

	"github.com/aivle-project/tokenauth/jwt"
)

// ValidateErrors carries host-level sentinel errors used by access validation.
type ValidateErrors struct {
	EngineNotReady error
	TokenInvalid   error
	TokenRevoked   error
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.AccessClaims, error)
	Denylist    Denylist
	Errors      ValidateErrors
}

// ValidateResult carries verified claims or the failure.
type ValidateResult struct {
	Claims *jwt.AccessClaims
	Err    error
}

// RunValidate verifies tokenStr and rejects it when its jti is denylisted or
// it was issued at or before the subject's latest logout-all.
func RunValidate(ctx context.Context, tokenStr string, deps ValidateDeps) ValidateResult {
	if deps.ParseAccess == nil || deps.Denylist == nil {
		return ValidateResult{Err: deps.Errors.EngineNotReady}
	}

	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		return ValidateResult{Err: deps.Errors.TokenInvalid}
	}

	revoked, err := deps.Denylist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return ValidateResult{Claims: claims, Err: err}
	}
	if revoked {
		return ValidateResult{Claims: claims, Err: deps.Errors.TokenRevoked}
	}

	if claims.Subject != "" {
		markedAt, marked, err := deps.Denylist.LogoutAllAt(ctx, claims.Subject)
		if err != nil {
			return ValidateResult{Claims: claims, Err: err}
		}
		if marked && !claims.IssuedAtTime().After(markedAt) {
			return ValidateResult{Claims: claims, Err: deps.Errors.TokenRevoked}
		}
	}

	return ValidateResult{Claims: claims}
}
