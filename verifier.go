package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aivle-project/tokenauth/password"
)

// AccountVerifier adapts an [AccountProvider] into [CredentialVerifier],
// [PrincipalLookup] and [CredentialStore].
type AccountVerifier struct {
	provider AccountProvider
	hasher   *password.Hasher
	logger   *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountVerifier returns a verifier backed by provider. Passwords are
// checked with hasher, which also accepts bcrypt hashes.
func NewAccountVerifier(provider AccountProvider, hasher *password.Hasher) *AccountVerifier {
	return &AccountVerifier{provider: provider, hasher: hasher, logger: zap.NewNop()}
}

// WithLogger sets the logger used when a legacy hash cannot be upgraded.
func (v *AccountVerifier) WithLogger(logger *zap.Logger) *AccountVerifier {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Verify looks the account up by normalized email and checks the password.
// Disabled and credentials-expired accounts are reported only after the
// password matched, so they do not leak account existence. A bcrypt or
// outdated Argon2id hash is replaced after a successful check; a failed
// upgrade is logged and does not fail the login.
func (v *AccountVerifier) Verify(ctx context.Context, identity, pw string) (Principal, error) {
	email := strings.ToLower(strings.TrimSpace(identity))
	if email == "" || pw == "" {
		return Principal{}, ErrBadCredential
	}

	acct, err := v.provider.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// Unknown emails pay for one hash check too.
			v.burnVerify(pw)
			return Principal{}, ErrBadCredential
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := v.hasher.Verify(pw, acct.PasswordHash)
	if err != nil || !ok {
		return Principal{}, ErrBadCredential
	}

	if !acct.Enabled {
		return Principal{}, ErrAccountDisabled
	}
	if acct.CredentialsExpired {
		return Principal{}, ErrCredentialsExpired
	}
	if v.hasher.NeedsRehash(acct.PasswordHash) {
		v.rehash(ctx, acct.ID, pw)
	}
	return acct.Principal(), nil
}

func (v *AccountVerifier) rehash(ctx context.Context, userID int64, pw string) {
	newHash, err := v.hasher.Hash(pw)
	if err != nil {
		v.logger.Warn("password rehash failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := v.provider.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		v.logger.Warn("password hash upgrade not stored", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (v *AccountVerifier) burnVerify(pw string) {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = v.hasher.Hash("tokenauth-dummy-password")
	})
	if v.dummyHash != "" {
		_, _ = v.hasher.Verify(pw, v.dummyHash)
	}
}

// LoadPrincipalByID implements [PrincipalLookup].
func (v *AccountVerifier) LoadPrincipalByID(ctx context.Context, userID int64) (Principal, error) {
	acct, err := v.provider.GetAccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return acct.Principal(), nil
}

// UpdatePasswordHash implements [CredentialStore].
func (v *AccountVerifier) UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error {
	if err := v.provider.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
