package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aivle-project/tokenauth"
)

type fakeSource struct {
	snapshot tokenauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokenauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: false})
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot()})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderGroupsCountersByOutcome(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Add(tokenauth.MetricLoginSuccess, 7)
	m.Add(tokenauth.MetricLoginLocked, 2)
	m.Inc(tokenauth.MetricLockoutTriggered)
	m.Add(tokenauth.MetricRefreshSuccess, 5)
	m.Inc(tokenauth.MetricSessionRehydrated)
	m.Add(tokenauth.MetricSessionsRevoked, 3)
	m.Inc(tokenauth.MetricLogoutAll)
	m.Observe(tokenauth.MetricValidateLatency, 3*time.Millisecond)
	m.Observe(tokenauth.MetricValidateLatency, 30*time.Millisecond)
	m.Observe(tokenauth.MetricValidateLatency, time.Second)

	out := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot(), dropped: 2}).Render()

	for _, want := range []string{
		`tokenauth_login_attempts_total{outcome="success"} 7`,
		`tokenauth_login_attempts_total{outcome="locked"} 2`,
		`tokenauth_login_attempts_total{outcome="bad_credentials"} 0`,
		`tokenauth_lockouts_total{event="engaged"} 1`,
		`tokenauth_refresh_total{outcome="rotated"} 5`,
		`tokenauth_session_events_total{event="rehydrated"} 1`,
		`tokenauth_session_events_total{event="revoked_by_logout_all"} 3`,
		`tokenauth_logouts_total{scope="all"} 1`,
		`tokenauth_store_failures_total 0`,
		`tokenauth_validate_latency_seconds_bucket{le="0.005"} 1`,
		`tokenauth_validate_latency_seconds_bucket{le="0.05"} 2`,
		`tokenauth_validate_latency_seconds_bucket{le="+Inf"} 3`,
		`tokenauth_validate_latency_seconds_count 3`,
		`tokenauth_audit_dropped_total 2`,
	} {
		if !strings.Contains(out, want+"\n") {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}

	if n := strings.Count(out, "# TYPE tokenauth_login_attempts_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line per family, got %d", n)
	}
}

func TestRenderOmitsLatencyWhenHistogramsDisabled(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: true})
	m.Inc(tokenauth.MetricValidateSuccess)

	out := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot()}).Render()
	if !strings.Contains(out, `tokenauth_access_validations_total{result="accepted"} 1`) {
		t.Fatalf("missing validation counter:\n%s", out)
	}
	if strings.Contains(out, "tokenauth_validate_latency_seconds") {
		t.Fatalf("latency histogram rendered while disabled:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: true})
	m.Inc(tokenauth.MetricLoginSuccess)
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: m.Snapshot()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
}
