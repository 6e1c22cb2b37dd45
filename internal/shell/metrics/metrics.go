// Package metrics exposes Prometheus instrumentation for the dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	// CyclesTotal counts finished dispatch cycles by result.
	CyclesTotal *prometheus.CounterVec

	// LockTimeoutsTotal counts cycles aborted waiting for the lock.
	LockTimeoutsTotal prometheus.Counter

	// QueueDepth is the number of pending requests after the last cycle.
	QueueDepth prometheus.Gauge

	// CooldownWaitSeconds observes how long cycles slept on the cooldown
	// gate.
	CooldownWaitSeconds prometheus.Histogram

	// CycleDurationSeconds observes end-to-end cycle duration.
	CycleDurationSeconds prometheus.Histogram
}

// New registers the dispatcher collectors against a registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "cycles_total",
			Help:      "Finished dispatch cycles by result.",
		}, []string{"result"}),
		LockTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "lock_timeouts_total",
			Help:      "Dispatch cycles aborted waiting for the deployment lock.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollout",
			Name:      "queue_depth",
			Help:      "Pending deployment requests.",
		}),
		CooldownWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollout",
			Name:      "cooldown_wait_seconds",
			Help:      "Time cycles slept on the cooldown gate.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		CycleDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollout",
			Name:      "cycle_duration_seconds",
			Help:      "End-to-end dispatch cycle duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
}
