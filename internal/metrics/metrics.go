// Package metrics exposes Prometheus collectors for sessions, acquisitions
// and the media cache. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceplay"

type Metrics struct {
	acquisitions      *prometheus.CounterVec
	acquisitionTime   *prometheus.HistogramVec
	sessionsActive    prometheus.Gauge
	transitions       *prometheus.CounterVec
	transportFailures *prometheus.CounterVec
	evictions         prometheus.Counter
	credentialsBurned prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Acquisition attempts per strategy and result",
		}, []string{"strategy", "result"}),
		acquisitionTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquisition_duration_seconds",
			Help:      "Time spent in a strategy",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"strategy"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Rooms with a live call session",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Call session state changes",
		}, []string{"from", "to"}),
		transportFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Failed plays by recovery action",
		}, []string{"action"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Files removed from the media cache",
		}),
		credentialsBurned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_burned_total",
			Help:      "Credential files dropped after a failed extraction",
		}),
	}
}

func (m *Metrics) Acquisition(strategy, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(strategy, result).Inc()
	m.acquisitionTime.WithLabelValues(strategy).Observe(took.Seconds())
}

// SessionsActive is handed to the registry, which sets it on every change.
func (m *Metrics) SessionsActive() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.sessionsActive
}

func (m *Metrics) SessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) TransportFailure(action string) {
	if m == nil {
		return
	}
	m.transportFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) CredentialBurned() {
	if m == nil {
		return
	}
	m.credentialsBurned.Inc()
}
