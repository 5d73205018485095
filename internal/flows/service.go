package flows

import (
	"context"

	"github.com/aivle-project/tokenauth/jwt"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.Guard != nil && s.deps.Refresh.Store != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string, claims *jwt.AccessClaims) error {
	return RunLogout(ctx, refreshToken, claims, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID int64, userKey string) (int64, error) {
	return RunLogoutAll(ctx, userID, userKey, s.deps.Logout)
}

func (s Service) ChangePassword(ctx context.Context, in PasswordChangeInput) error {
	return RunChangePassword(ctx, in, s.deps.Password)
}

func (s Service) Validate(ctx context.Context, tokenStr string) ValidateResult {
	return RunValidate(ctx, tokenStr, s.deps.Validate)
}
