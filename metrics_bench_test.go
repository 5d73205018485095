package tokenauth

import (
	"testing"
	"time"
)

// Counter updates made by one successful refresh that had to rebuild its
// Redis record from the durable store.
func refreshRehydrated(m *Metrics) {
	m.Inc(MetricSessionRehydrated)
	m.Inc(MetricRefreshSuccess)
}

// Counter updates made by one access-token validation.
func validateAccepted(m *Metrics, d time.Duration) {
	m.Inc(MetricValidateSuccess)
	m.Observe(MetricValidateLatency, d)
}

func BenchmarkMetricsRefreshPath(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		refreshRehydrated(m)
	}
}

func BenchmarkMetricsRefreshPathDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		refreshRehydrated(m)
	}
}

func BenchmarkMetricsValidatePathParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		d := time.Duration(0)
		for pb.Next() {
			validateAccepted(m, d)
			d = (d + 3*time.Millisecond) % (600 * time.Millisecond)
		}
	})
}

// Validate and refresh traffic hit neighbouring counters from every core.
func BenchmarkMetricsMixedTrafficParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		n := 0
		for pb.Next() {
			if n%10 == 0 {
				refreshRehydrated(m)
			} else {
				validateAccepted(m, 4*time.Millisecond)
			}
			n++
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	refreshRehydrated(m)
	validateAccepted(m, time.Millisecond)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
