package tokenauth

import (
	"context"
	"strconv"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventLockoutTriggered      = "lockout_triggered"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventLoginUnlock           = "login_unlock"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshAfterLogoutAll = "refresh_after_logout_all"
	auditEventRefreshRateLimited    = "refresh_rate_limited"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
)

type auditFields struct {
	userID   int64
	identity string
	deviceID string
	ip       string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, f auditFields, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		Identity:  f.identity,
		DeviceID:  f.deviceID,
		IP:        f.ip,
		Success:   success,
	}
	if f.userID != 0 {
		event.UserID = strconv.FormatInt(f.userID, 10)
	}
	if err != nil {
		if code := ErrorCode(err); code != "" {
			event.Error = code
		} else {
			event.Error = err.Error()
		}
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}
