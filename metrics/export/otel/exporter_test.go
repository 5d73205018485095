package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aivle-project/tokenauth"
)

type fakeSource struct {
	metrics *tokenauth.Metrics
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() tokenauth.MetricsSnapshot { return f.metrics.Snapshot() }
func (f *fakeSource) AuditDropped() uint64                       { return f.dropped }

func newReader(t *testing.T, src MetricsSource) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewOTelExporterFromSource(provider.Meter("tokenauth-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

// point returns the value of name's data point carrying key=value, or the
// unlabeled point when key is empty.
func point(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if key == "" && dp.Attributes.Len() == 0 {
					return dp.Value
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					return dp.Value
				}
			}
		}
	}
	t.Fatalf("no data point %s{%s=%q}", name, key, value)
	return 0
}

func TestExporterReportsFamiliesWithAttributes(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Add(tokenauth.MetricLoginSuccess, 3)
	m.Inc(tokenauth.MetricLoginRateLimited)
	m.Add(tokenauth.MetricRefreshSuccess, 4)
	m.Inc(tokenauth.MetricSessionRehydrated)
	m.Inc(tokenauth.MetricLoginUnlocked)
	m.Inc(tokenauth.MetricStoreFailure)
	m.Observe(tokenauth.MetricValidateLatency, 2*time.Millisecond)
	m.Observe(tokenauth.MetricValidateLatency, 200*time.Millisecond)

	rm := collect(t, newReader(t, &fakeSource{metrics: m, dropped: 1}))

	cases := []struct {
		name, key, value string
		want             int64
	}{
		{"tokenauth_login_attempts_total", "outcome", "success", 3},
		{"tokenauth_login_attempts_total", "outcome", "rate_limited", 1},
		{"tokenauth_login_attempts_total", "outcome", "locked", 0},
		{"tokenauth_refresh_total", "outcome", "rotated", 4},
		{"tokenauth_session_events_total", "event", "rehydrated", 1},
		{"tokenauth_lockouts_total", "event", "released", 1},
		{"tokenauth_store_failures_total", "", "", 1},
		{"tokenauth_validate_latency_seconds_bucket", "le", "0.005", 1},
		{"tokenauth_validate_latency_seconds_bucket", "le", "0.25", 2},
		{"tokenauth_validate_latency_seconds_count", "", "", 2},
		{"tokenauth_audit_dropped_total", "", "", 1},
	}
	for _, tc := range cases {
		if got := point(t, rm, tc.name, tc.key, tc.value); got != tc.want {
			t.Fatalf("%s{%s=%q} = %d, want %d", tc.name, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	if _, err := NewOTelExporterFromSource(provider.Meter("tokenauth-test"), nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err == nil {
		t.Fatal("expected error for nil meter")
	}
}

func TestExporterCollectsWhileCountersMove(t *testing.T) {
	m := tokenauth.NewMetrics(tokenauth.MetricsConfig{Enabled: true})
	reader := newReader(t, &fakeSource{metrics: m})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(tokenauth.MetricRefreshSuccess)
			m.Inc(tokenauth.MetricSessionRehydrated)
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()

	if got := point(t, collect(t, reader), "tokenauth_refresh_total", "outcome", "rotated"); got != 8 {
		t.Fatalf("expected 8 rotations, got %d", got)
	}
}
