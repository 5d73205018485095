package internaldefs

import (
	"github.com/aivle-project/tokenauth"
)

// Series is one engine counter exported under a label value of its family.
type Series struct {
	ID    tokenauth.MetricID
	Value string
}

// Family is one exported counter. Label is empty for families with a single
// unlabeled series.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// Families lists every exported counter family in exposition order. Each
// engine counter belongs to exactly one family.
var Families = []Family{
	{
		Name:  "tokenauth_login_attempts_total",
		Help:  "Password logins by outcome. locked counts attempts refused while the identity was locked out.",
		Label: "outcome",
		Series: []Series{
			{ID: tokenauth.MetricLoginSuccess, Value: "success"},
			{ID: tokenauth.MetricLoginFailure, Value: "bad_credentials"},
			{ID: tokenauth.MetricLoginLocked, Value: "locked"},
			{ID: tokenauth.MetricLoginRateLimited, Value: "rate_limited"},
		},
	},
	{
		Name:  "tokenauth_lockouts_total",
		Help:  "Identity lockouts engaged by repeated failures and released by an operator.",
		Label: "event",
		Series: []Series{
			{ID: tokenauth.MetricLockoutTriggered, Value: "engaged"},
			{ID: tokenauth.MetricLoginUnlocked, Value: "released"},
		},
	},
	{
		Name:  "tokenauth_refresh_total",
		Help:  "Refresh-token rotations by outcome.",
		Label: "outcome",
		Series: []Series{
			{ID: tokenauth.MetricRefreshSuccess, Value: "rotated"},
			{ID: tokenauth.MetricRefreshFailure, Value: "rejected"},
			{ID: tokenauth.MetricRefreshRateLimited, Value: "rate_limited"},
		},
	},
	{
		Name: "tokenauth_refresh_after_logout_all_total",
		Help: "Refresh tokens refused because they predate the owner's logout-all marker. Also counted as rejected refreshes.",
		Series: []Series{
			{ID: tokenauth.MetricRefreshAfterLogoutAll},
		},
	},
	{
		Name:  "tokenauth_session_events_total",
		Help:  "Refresh-token session lifecycle. rehydrated counts Redis records rebuilt from the durable store.",
		Label: "event",
		Series: []Series{
			{ID: tokenauth.MetricSessionCreated, Value: "created"},
			{ID: tokenauth.MetricSessionRehydrated, Value: "rehydrated"},
			{ID: tokenauth.MetricSessionsRevoked, Value: "revoked_by_logout_all"},
		},
	},
	{
		Name:  "tokenauth_logouts_total",
		Help:  "Logout requests by scope.",
		Label: "scope",
		Series: []Series{
			{ID: tokenauth.MetricLogout, Value: "device"},
			{ID: tokenauth.MetricLogoutAll, Value: "all"},
		},
	},
	{
		Name: "tokenauth_access_denylisted_total",
		Help: "Access-token ids added to the denylist before their expiry.",
		Series: []Series{
			{ID: tokenauth.MetricAccessDenylisted},
		},
	},
	{
		Name:  "tokenauth_access_validations_total",
		Help:  "Access-token validations by result.",
		Label: "result",
		Series: []Series{
			{ID: tokenauth.MetricValidateSuccess, Value: "accepted"},
			{ID: tokenauth.MetricValidateFailure, Value: "rejected"},
		},
	},
	{
		Name:  "tokenauth_password_changes_total",
		Help:  "Password changes by outcome.",
		Label: "outcome",
		Series: []Series{
			{ID: tokenauth.MetricPasswordChangeSuccess, Value: "changed"},
			{ID: tokenauth.MetricPasswordChangeInvalidOld, Value: "wrong_current_password"},
			{ID: tokenauth.MetricPasswordChangeReuseRejected, Value: "reused"},
		},
	},
	{
		Name: "tokenauth_store_failures_total",
		Help: "Requests failed by a Redis, PostgreSQL or account-provider error.",
		Series: []Series{
			{ID: tokenauth.MetricStoreFailure},
		},
	},
}

// Validation latency histogram.
const (
	LatencyName = "tokenauth_validate_latency_seconds"
	LatencyHelp = "Access-token validation latency, denylist and logout-all lookups included."
)

// LatencyID is the engine histogram behind LatencyName.
const LatencyID = tokenauth.MetricValidateLatency

// LatencyBounds are the upper bounds, in seconds, of the engine's latency
// buckets.
var LatencyBounds = [...]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Audit queue overflow.
const (
	AuditDroppedName = "tokenauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events discarded because the dispatcher queue was full."
)

// CumulativeBuckets turns the engine's per-bucket counts into running totals.
// Missing buckets count as zero.
func CumulativeBuckets(raw []uint64) [len(LatencyBounds)]uint64 {
	var out [len(LatencyBounds)]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
