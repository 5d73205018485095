package flows

import (
	"context"
	"strings"
)

// PasswordChangeInput is the flow-local change-password request.
type PasswordChangeInput struct {
	UserID      int64
	CurrentHash string
	OldPassword string
	NewPassword string
}

// PasswordErrors carries host-level sentinel errors used by the password flow.
type PasswordErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	PasswordReuse      error
	PasswordPolicy     error
}

// PasswordDeps captures change-password dependencies.
type PasswordDeps struct {
	VerifyPassword     func(password, encodedHash string) (bool, error)
	HashPassword       func(password string) (string, error)
	UpdatePasswordHash func(ctx context.Context, userID int64, newHash string) error
	Errors             PasswordErrors
}

// RunChangePassword checks the old password, rejects reuse, hashes the new
// one and persists it. Existing sessions are left alone.
func RunChangePassword(ctx context.Context, in PasswordChangeInput, deps PasswordDeps) error {
	if deps.VerifyPassword == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return deps.Errors.EngineNotReady
	}
	if in.OldPassword == "" || strings.TrimSpace(in.NewPassword) == "" {
		return deps.Errors.PasswordPolicy
	}

	ok, err := deps.VerifyPassword(in.OldPassword, in.CurrentHash)
	if err != nil || !ok {
		return deps.Errors.InvalidCredentials
	}

	if in.NewPassword == in.OldPassword {
		return deps.Errors.PasswordReuse
	}
	if same, err := deps.VerifyPassword(in.NewPassword, in.CurrentHash); err == nil && same {
		return deps.Errors.PasswordReuse
	}

	newHash, err := deps.HashPassword(in.NewPassword)
	if err != nil {
		return deps.Errors.PasswordPolicy
	}

	return deps.UpdatePasswordHash(ctx, in.UserID, newHash)
}
