// Package metrics defines the Prometheus instrumentation for the
// fetch/notify subsystem, grounded on the teacher's pkg/metrics/retry.go
// and internal/metrics/config_reload.go counter/histogram conventions,
// renamed into the confsync_ namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the fetch/notify subsystem
// records. A nil *Metrics is valid everywhere it's accepted — callers
// that don't want metrics simply pass nil, and every Record* method below
// is a nil-safe no-op.
type Metrics struct {
	FetchTotal          *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	LongPollRoundtrips  *prometheus.CounterVec
	LongPollDuration    prometheus.Histogram
	DispatchTotal       *prometheus.CounterVec
	BackoffDelaySeconds *prometheus.HistogramVec
	ActiveNamespaces    prometheus.Gauge
}

// New registers a fresh Metrics set against reg. Use a dedicated registry
// in tests to avoid duplicate-registration panics across package-level
// test runs.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confsync",
			Subsystem: "repository",
			Name:      "fetch_total",
			Help:      "Total config-fetch attempts by namespace and outcome.",
		}, []string{"namespace", "outcome"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "confsync",
			Subsystem: "repository",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single sync() invocation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"namespace"}),

		LongPollRoundtrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confsync",
			Subsystem: "notifier",
			Name:      "roundtrips_total",
			Help:      "Total long-poll round trips by outcome (changed, not_changed, error).",
		}, []string{"outcome"}),

		LongPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "confsync",
			Subsystem: "notifier",
			Name:      "roundtrip_duration_seconds",
			Help:      "Duration of a single long-poll HTTP round trip.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 90, 120},
		}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confsync",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Total change events dispatched by namespace.",
		}, []string{"namespace"}),

		BackoffDelaySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "confsync",
			Subsystem: "repository",
			Name:      "backoff_delay_seconds",
			Help:      "Backoff delay applied between failed endpoint attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"namespace"}),

		ActiveNamespaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confsync",
			Subsystem: "notifier",
			Name:      "watched_namespaces",
			Help:      "Number of namespaces currently watched by the long-poll notifier.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FetchTotal, m.FetchDuration, m.LongPollRoundtrips, m.LongPollDuration,
			m.DispatchTotal, m.BackoffDelaySeconds, m.ActiveNamespaces,
		)
	}
	return m
}

func (m *Metrics) RecordFetch(namespace, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(namespace, outcome).Inc()
	m.FetchDuration.WithLabelValues(namespace).Observe(seconds)
}

func (m *Metrics) RecordBackoff(namespace string, seconds float64) {
	if m == nil {
		return
	}
	m.BackoffDelaySeconds.WithLabelValues(namespace).Observe(seconds)
}

func (m *Metrics) RecordLongPoll(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LongPollRoundtrips.WithLabelValues(outcome).Inc()
	m.LongPollDuration.Observe(seconds)
}

func (m *Metrics) RecordDispatch(namespace string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) SetWatchedNamespaces(n int) {
	if m == nil {
		return
	}
	m.ActiveNamespaces.Set(float64(n))
}
