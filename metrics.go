package authflow

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram bucket in the in-process
// metrics system.
type MetricID uint16

const (
	// MetricAuthSuccess is an exported metric constant.
	MetricAuthSuccess MetricID = iota
	// MetricAuthFailure is an exported metric constant.
	MetricAuthFailure
	// MetricBotRejected is an exported metric constant.
	MetricBotRejected
	// MetricCaptchaRequired is an exported metric constant.
	MetricCaptchaRequired
	// MetricTwoFactorChallenge is an exported metric constant.
	MetricTwoFactorChallenge
	// MetricTwoFactorSuccess is an exported metric constant.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure is an exported metric constant.
	MetricTwoFactorFailure
	// MetricRememberRejected is an exported metric constant.
	MetricRememberRejected
	// MetricSsoRequired is an exported metric constant.
	MetricSsoRequired
	// MetricDeviceMissing is an exported metric constant.
	MetricDeviceMissing
	// MetricNewDeviceSeen is an exported metric constant.
	MetricNewDeviceSeen
	// MetricNewDeviceEmailSent is an exported metric constant.
	MetricNewDeviceEmailSent
	// MetricFailedLoginWarning is an exported metric constant.
	MetricFailedLoginWarning
	// MetricFailedTwoFactorWarning is an exported metric constant.
	MetricFailedTwoFactorWarning
	// MetricEmailCodeIssued is an exported metric constant.
	MetricEmailCodeIssued
	// MetricAuthenticateLatency is an exported metric constant.
	MetricAuthenticateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Counters are padded to one cache line apiece to avoid false sharing on
// concurrent authentication paths.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional latency histogram for
// [Engine.Authenticate].
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is being recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the identified counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one latency sample. Only [MetricAuthenticateLatency]
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthenticateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot deep-copies all counters and histogram buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
