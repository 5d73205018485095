package tokenauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIgnoresUpdates(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricRefreshSuccess)
	m.Add(MetricSessionsRevoked, 3)
	m.Observe(MetricValidateLatency, time.Millisecond)

	if m.Value(MetricRefreshSuccess) != 0 || m.Value(MetricSessionsRevoked) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	if m.LatencyEnabled() {
		t.Fatal("latency requires metrics to be enabled")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsConcurrentRefreshAndValidate(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	const goroutines = 16
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				refreshRehydrated(m)
				validateAccepted(m, time.Duration(j%700)*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	for _, id := range []MetricID{MetricRefreshSuccess, MetricSessionRehydrated, MetricValidateSuccess} {
		if got := m.Value(id); got != want {
			t.Fatalf("counter %d: expected %d, got %d", id, want, got)
		}
	}
	var observed uint64
	for _, v := range m.Snapshot().Histograms[MetricValidateLatency] {
		observed += v
	}
	if observed != want {
		t.Fatalf("expected %d latency samples, got %d", want, observed)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	// One sample at each upper bound lands in that bucket; 700ms overflows.
	for _, d := range []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	} {
		m.Observe(MetricValidateLatency, d)
	}
	// Only validation latency has a histogram.
	m.Observe(MetricRefreshSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotShape(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Add(MetricSessionsRevoked, 4)
	m.Add(MetricSessionsRevoked, 0)
	m.Inc(MetricLoginUnlocked)
	m.Observe(MetricValidateLatency, time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricSessionsRevoked] != 4 {
		t.Fatalf("expected 4 revoked, got %d", snap.Counters[MetricSessionsRevoked])
	}
	if snap.Counters[MetricLoginUnlocked] != 1 {
		t.Fatalf("expected 1 unlock, got %d", snap.Counters[MetricLoginUnlocked])
	}
	if _, ok := snap.Counters[MetricValidateLatency]; ok {
		t.Fatal("latency must not appear as a counter")
	}
	if _, ok := snap.Histograms[MetricValidateLatency]; ok {
		t.Fatal("histogram must be absent when latency is disabled")
	}
	if len(snap.Counters) != int(metricIDCount)-1 {
		t.Fatalf("expected %d counters, got %d", int(metricIDCount)-1, len(snap.Counters))
	}

	// Snapshots are copies.
	snap.Counters[MetricSessionsRevoked] = 99
	if m.Value(MetricSessionsRevoked) != 4 {
		t.Fatal("snapshot mutation leaked into live counters")
	}
}

func TestMetricsRejectsUnknownID(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(metricIDCount)
	m.Add(metricIDCount+5, 2)
	if m.Value(metricIDCount) != 0 {
		t.Fatal("out-of-range ids must be ignored")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Second)
	if m.Enabled() || m.Value(MetricLoginSuccess) != 0 || len(m.Snapshot().Counters) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}
