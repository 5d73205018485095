package flows

import (
	"context"
	"strings"

	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/session"
)

// LoginInput is the flow-local login request.
type LoginInput struct {
	Identity   string
	Password   string
	DeviceID   string
	DeviceInfo string
	IP         string
}

// LoginResult is the flow-local login response.
type LoginResult struct {
	Principal    Principal
	AccessToken  string
	AccessClaims *jwt.AccessClaims
	RefreshToken string
	Record       *session.Record
	// JustLocked is set on failure when this attempt triggered the lockout.
	JustLocked bool
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Guard  LoginGuard
	Verify func(ctx context.Context, identity, password string) (Principal, error)
	// IsVerifierOutcome reports whether a verifier error is a credential
	// outcome (bad password, disabled, expired) rather than a backend fault.
	// Only outcomes count towards the lockout.
	IsVerifierOutcome func(error) bool
	// MapVerifyError turns a verifier outcome into the public error.
	MapVerifyError func(error) error
	Issuer         TokenIssuer
	Store          RefreshStore
	Warn           func(string, ...any)
	Errors         LoginErrors
}

// RunLogin authenticates in and issues a token pair. A non-nil result is
// returned alongside outcome errors so the caller can see whether the
// attempt locked the identity.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginResult, error) {
	if deps.Guard == nil || deps.Verify == nil || deps.Issuer == nil || deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.MapVerifyError == nil {
		deps.MapVerifyError = func(err error) error { return err }
	}
	if deps.IsVerifierOutcome == nil {
		deps.IsVerifierOutcome = func(error) bool { return true }
	}
	warn := warnOrNop(deps.Warn)

	identity := strings.TrimSpace(in.Identity)

	if err := deps.Guard.ValidateNotLocked(ctx, identity); err != nil {
		return nil, err
	}

	principal, err := deps.Verify(ctx, identity, in.Password)
	if err != nil {
		if !deps.IsVerifierOutcome(err) {
			return nil, err
		}
		locked, recErr := deps.Guard.RecordFailure(ctx, identity)
		if recErr != nil {
			return nil, recErr
		}
		return &LoginResult{JustLocked: locked}, deps.MapVerifyError(err)
	}

	if err := deps.Guard.ClearFailures(ctx, identity); err != nil {
		warn("login: clearing failure counter failed", "identity", identity, "error", err)
	}

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		deviceID = session.DefaultDeviceID
	}

	access, claims, err := deps.Issuer.CreateAccessToken(principal, deviceID)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.Issuer.CreateRefreshToken()
	if err != nil {
		return nil, err
	}

	rec, err := deps.Store.StoreToken(ctx, principal.ID, refresh, deviceID, in.DeviceInfo, in.IP)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Principal:    principal,
		AccessToken:  access,
		AccessClaims: claims,
		RefreshToken: refresh,
		Record:       rec,
	}, nil
}
