package tokenauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aivle-project/tokenauth/denylist"
	"github.com/aivle-project/tokenauth/internal"
	internalaudit "github.com/aivle-project/tokenauth/internal/audit"
	"github.com/aivle-project/tokenauth/internal/flows"
	"github.com/aivle-project/tokenauth/internal/limiters"
	"github.com/aivle-project/tokenauth/internal/rate"
	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/password"
	"github.com/aivle-project/tokenauth/session"
)

// Engine is the session orchestrator: login with lockout, refresh rotation,
// logout, logout-all, password change and access-token validation.
//
// Engine methods are safe for concurrent use. Atomicity comes from Redis
// scripts and transactions and from conditional updates in the durable
// store; the Engine holds no locks.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	sessionStore *session.Store
	denylist     *denylist.Store
	guard        *limiters.LoginAttemptGuard
	rateLimiter  *rate.Limiter

	jwtManager *jwt.Manager
	issuer     *TokenIssuer
	hasher     *password.Hasher

	verifier        CredentialVerifier
	principals      PrincipalLookup
	credentialStore CredentialStore

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	flows   flows.Service
}

func (e *Engine) initFlows() {
	warn := e.logger.Sugar().Warnw

	deps := flows.Deps{
		Login: flows.LoginDeps{
			Guard:             e.guard,
			Verify:            e.verifier.Verify,
			IsVerifierOutcome: isVerifierOutcome,
			MapVerifyError:    mapVerifyError,
			Issuer:            e.issuer,
			Store:             e.sessionStore,
			Warn:              warn,
			Errors:            flows.LoginErrors{EngineNotReady: ErrEngineNotReady},
		},
		Refresh: flows.RefreshDeps{
			Store:         e.sessionStore,
			Denylist:      e.denylist,
			LoadPrincipal: e.principals.LoadPrincipalByID,
			Issuer:        e.issuer,
			Warn:          warn,
			WellFormed:    internal.LooksLikeRefreshToken,
			Errors: flows.RefreshErrors{
				EngineNotReady:      ErrEngineNotReady,
				InvalidRefreshToken: ErrInvalidRefreshToken,
				PrincipalNotFound:   ErrPrincipalNotFound,
			},
		},
		Logout: flows.LogoutDeps{
			Store:      e.sessionStore,
			Denylist:   e.denylist,
			Now:        e.now,
			WellFormed: internal.LooksLikeRefreshToken,
		},
		Password: flows.PasswordDeps{
			VerifyPassword: e.hasher.Verify,
			HashPassword:   e.hasher.Hash,
			Errors: flows.PasswordErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				PasswordReuse:      ErrPasswordReuse,
				PasswordPolicy:     ErrPasswordPolicy,
			},
		},
		Validate: flows.ValidateDeps{
			ParseAccess: e.jwtManager.ParseAccess,
			Denylist:    e.denylist,
			Errors: flows.ValidateErrors{
				EngineNotReady: ErrEngineNotReady,
				TokenInvalid:   ErrTokenInvalid,
				TokenRevoked:   ErrTokenRevoked,
			},
		},
	}
	if e.credentialStore != nil {
		deps.Password.UpdatePasswordHash = e.credentialStore.UpdatePasswordHash
	}

	e.flows = flows.New(deps)
}

// Close flushes pending audit events. It does not close the Redis client or
// the durable store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	_ = e.logger.Sync()
}

// AuditDropped returns the number of audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters. It is empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Issuer exposes the engine's token issuer.
func (e *Engine) Issuer() *TokenIssuer {
	return e.issuer
}

// HashPassword hashes pw with the engine's Argon2id parameters, for
// provisioning accounts outside the login path.
func (e *Engine) HashPassword(pw string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(pw)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) onRehydrate(rec *session.Record) {
	e.metricInc(MetricSessionRehydrated)
	e.logger.Debug("refresh record rebuilt from durable store",
		zap.Int64("user_id", rec.UserID),
		zap.String("device_id", rec.DeviceID),
	)
}

func (e *Engine) storeFailure(op string, err error) {
	e.metricInc(MetricStoreFailure)
	e.logger.Error("store failure", zap.String("op", op), zap.Error(err))
}

// Login authenticates in.Identity and issues an access/refresh pair bound
// to in.DeviceID.
//
// Locked identities fail with [ErrLoginLocked] before the password is
// checked. Verifier outcomes count towards the lockout and surface as
// [ErrInvalidCredentials], [ErrEmailVerificationRequired] or
// [ErrPasswordExpired], also on the attempt that engages the lock.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if in.IP == "" {
		in.IP = clientIPFromContext(ctx)
	}
	fields := auditFields{
		identity: limiters.NormalizeIdentity(in.Identity),
		deviceID: in.DeviceID,
		ip:       in.IP,
	}

	if err := e.rateLimiter.CheckLogin(ctx, in.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, fields, err, nil)
			return nil, ErrRateLimited
		}
		e.storeFailure("login.rate", err)
		return nil, err
	}

	res, err := e.flows.Login(ctx, flows.LoginInput{
		Identity:   in.Identity,
		Password:   in.Password,
		DeviceID:   in.DeviceID,
		DeviceInfo: in.DeviceInfo,
		IP:         in.IP,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrLoginLocked):
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, fields, err, nil)
		case IsInfrastructure(err):
			e.storeFailure("login", err)
			e.emitAudit(ctx, auditEventLoginFailure, false, fields, err, reason("store_unavailable"))
		default:
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, fields, err, nil)
			if res != nil && res.JustLocked {
				e.metricInc(MetricLockoutTriggered)
				e.emitAudit(ctx, auditEventLockoutTriggered, false, fields, ErrLoginLocked, nil)
			}
		}
		return nil, err
	}

	fields.userID = res.Principal.ID
	fields.deviceID = res.Record.DeviceID
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, fields, nil, nil)

	return &LoginResult{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresIn:  e.issuer.AccessTTLSeconds(),
		RefreshExpiresIn: e.issuer.RefreshTTLSeconds(),
		DeviceID:         res.Record.DeviceID,
		PasswordExpired:  res.Principal.PasswordExpired,
		Principal:        res.Principal,
	}, nil
}

// Refresh rotates refreshToken and returns a new pair. Every rejection
// (unknown, revoked, expired, already rotated, issued before the user's
// last logout-all, owner disabled) is [ErrInvalidRefreshToken]. Of two
// concurrent refreshes of the same token exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckRefresh(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, auditFields{ip: ip}, err, nil)
			return nil, ErrRateLimited
		}
		e.storeFailure("refresh.rate", err)
		return nil, err
	}

	res := e.flows.Refresh(ctx, refreshToken)
	fields := auditFields{userID: res.UserID, ip: ip}
	if res.Record != nil {
		fields.deviceID = res.Record.DeviceID
	}

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, fields, nil, nil)
		return &TokenResponse{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			AccessExpiresIn:  e.issuer.AccessTTLSeconds(),
			RefreshExpiresIn: e.issuer.RefreshTTLSeconds(),
			DeviceID:         res.Record.DeviceID,
		}, nil
	case flows.RefreshFailureLoggedOut:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshAfterLogoutAll)
		e.emitAudit(ctx, auditEventRefreshAfterLogoutAll, false, fields, res.Err, nil)
	case flows.RefreshFailureStore:
		e.metricInc(MetricRefreshFailure)
		e.storeFailure("refresh", res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, res.Err, reason("store_unavailable"))
	case flows.RefreshFailureNextToken, flows.RefreshFailureIssueAccess:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh: token minting failed", zap.Int64("user_id", res.UserID), zap.Error(res.Err))
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, res.Err, reason("mint_failed"))
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, res.Err, reason(refreshFailureReason(res.Failure)))
	}
	return nil, res.Err
}

func refreshFailureReason(kind flows.RefreshFailureKind) string {
	switch kind {
	case flows.RefreshFailurePrincipal:
		return "principal_not_found"
	case flows.RefreshFailureRotate:
		return "rotation_lost"
	case flows.RefreshFailureDisabled:
		return "principal_disabled"
	default:
		return "invalid_token"
	}
}

// Logout revokes refreshToken (if non-blank) and denylists the access token
// described by accessClaims (if non-nil) until its natural expiry. Unknown
// refresh tokens are not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string, accessClaims *jwt.AccessClaims) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	fields := auditFields{ip: clientIPFromContext(ctx)}
	if accessClaims != nil {
		fields.userID = accessClaims.UID
		fields.deviceID = accessClaims.DeviceID
	}

	if err := e.flows.Logout(ctx, refreshToken, accessClaims); err != nil {
		e.storeFailure("logout", err)
		e.emitAudit(ctx, auditEventLogout, false, fields, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	if accessClaims != nil {
		e.metricInc(MetricAccessDenylisted)
	}
	e.emitAudit(ctx, auditEventLogout, true, fields, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of userID and invalidates all access
// tokens of userKey issued up to now.
func (e *Engine) LogoutAll(ctx context.Context, userID int64, userKey string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	fields := auditFields{userID: userID, ip: clientIPFromContext(ctx)}

	n, err := e.flows.LogoutAll(ctx, userID, userKey)
	if err != nil {
		e.storeFailure("logout_all", err)
		e.emitAudit(ctx, auditEventLogoutAll, false, fields, err, nil)
		return err
	}

	e.metricInc(MetricLogoutAll)
	if n > 0 {
		e.metrics.Add(MetricSessionsRevoked, uint64(n))
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, fields, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(n, 10)}
	})
	return nil
}

// ChangePassword replaces account's password after checking oldPassword.
// The new password must differ from the current one and satisfy the length
// policy. Existing sessions stay valid.
func (e *Engine) ChangePassword(ctx context.Context, account Account, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	fields := auditFields{userID: account.ID, identity: account.Email, ip: clientIPFromContext(ctx)}

	err := e.flows.ChangePassword(ctx, flows.PasswordChangeInput{
		UserID:      account.ID,
		CurrentHash: account.PasswordHash,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
	switch {
	case err == nil:
		e.metricInc(MetricPasswordChangeSuccess)
		e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, fields, nil, nil)
		return nil
	case errors.Is(err, ErrInvalidCredentials):
		e.metricInc(MetricPasswordChangeInvalidOld)
	case errors.Is(err, ErrPasswordReuse):
		e.metricInc(MetricPasswordChangeReuseRejected)
	case IsInfrastructure(err):
		e.storeFailure("change_password", err)
	}
	e.emitAudit(ctx, auditEventPasswordChangeFailure, false, fields, err, nil)
	return err
}

// ValidateAccess verifies an access token and rejects denylisted tokens and
// tokens issued at or before the subject's latest logout-all with
// [ErrTokenRevoked]. Malformed, expired or forged tokens fail with
// [ErrTokenInvalid].
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	res := e.flows.Validate(ctx, strings.TrimSpace(tokenStr))
	if res.Err != nil {
		e.metricInc(MetricValidateFailure)
		if IsInfrastructure(res.Err) {
			e.storeFailure("validate", res.Err)
		}
		return nil, res.Err
	}
	e.metricInc(MetricValidateSuccess)

	c := res.Claims
	out := &AuthResult{
		UserID:   c.UID,
		UserKey:  c.Subject,
		Email:    c.Email,
		Roles:    append([]string(nil), c.Roles...),
		DeviceID: c.DeviceID,
		JTI:      c.ID,
		IssuedAt: c.IssuedAtTime(),
		Claims:   c,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

// UnlockIdentity clears the lock and the failure counter of identity so the
// next login attempt is evaluated afresh.
func (e *Engine) UnlockIdentity(ctx context.Context, identity string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	fields := auditFields{identity: limiters.NormalizeIdentity(identity), ip: clientIPFromContext(ctx)}
	if err := e.guard.Unlock(ctx, identity); err != nil {
		e.storeFailure("unlock", err)
		e.emitAudit(ctx, auditEventLoginUnlock, false, fields, err, nil)
		return err
	}
	e.metricInc(MetricLoginUnlocked)
	e.emitAudit(ctx, auditEventLoginUnlock, true, fields, nil, nil)
	return nil
}

// ActiveSessions lists the user's live refresh-token sessions, most recently
// used first. Token values are not exposed.
func (e *Engine) ActiveSessions(ctx context.Context, userID int64) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessionStore.ActiveSessions(ctx, userID)
	if err != nil {
		e.storeFailure("active_sessions", err)
		return nil, err
	}

	out := make([]SessionInfo, 0, len(records))
	for _, r := range records {
		out = append(out, SessionInfo{
			DeviceID:   r.DeviceID,
			DeviceInfo: r.DeviceInfo,
			IPAddress:  r.IPAddress,
			IssuedAt:   time.UnixMilli(r.IssuedAt),
			LastUsedAt: r.LastUsed(),
			ExpiresAt:  time.UnixMilli(r.ExpiresAt),
		})
	}
	return out, nil
}
