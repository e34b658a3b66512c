package authflow

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAuthSuccess)

	if got := m.Value(MetricAuthSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricAuthSuccess)
	m.Inc(MetricAuthSuccess)
	m.Inc(MetricAuthSuccess)

	if got := m.Value(MetricAuthSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricAuthFailure)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricAuthFailure); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		3 * time.Millisecond,
		8 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricAuthenticateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAuthenticateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, count := range buckets {
		if count != 1 {
			t.Fatalf("bucket %d: expected 1 observation, got %d", i, count)
		}
	}
}

func TestMetricsObserveOnlyLatencyMetric(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricAuthSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricAuthSuccess]; ok {
		t.Fatal("only the authenticate latency metric carries a histogram")
	}
}

func TestMetricsRecordedDuringAuthenticate(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	env, done := newTestEnv(t, cfg)
	defer done()

	p := seedPrincipal(env, nil)
	device := knownDevice(env, p.ID)

	if _, err := env.engine.Authenticate(context.Background(), passwordRequest(device)); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	bad := passwordRequest(device)
	bad.Credential = "wrong-password"
	if _, err := env.engine.Authenticate(context.Background(), bad); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	m := env.engine.Metrics()
	if got := m.Value(MetricAuthSuccess); got != 1 {
		t.Fatalf("expected one success, got %d", got)
	}
	if got := m.Value(MetricAuthFailure); got != 1 {
		t.Fatalf("expected one failure, got %d", got)
	}
}
