package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	AlertsDelivered *prometheus.CounterVec
	AlertsRefused   prometheus.Counter
	CreditsSpent    prometheus.Counter
	CreditsGranted  prometheus.Counter
	JobsProcessed   *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	SweepDuration   *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// New builds and registers every collector. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "alerts",
			Name:      "delivered_total",
			Help:      "Delivered alerts by priority tier",
		}, []string{"priority"}),
		AlertsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "alerts",
			Name:      "refused_total",
			Help:      "Alert candidates refused for insufficient funds",
		}),
		CreditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "ledger",
			Name:      "credits_spent_total",
			Help:      "Credit units debited",
		}),
		CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "ledger",
			Name:      "credits_granted_total",
			Help:      "Credit units credited",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Message jobs processed by final status",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs currently waiting in the queue",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "alerts",
			Name:      "sweep_duration_seconds",
			Help:      "Alert sweep duration by mode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "ledger",
			Name:      "balance_cache_hits_total",
			Help:      "Balance reads served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "ledger",
			Name:      "balance_cache_misses_total",
			Help:      "Balance reads that went to the store",
		}),
	}
	reg.MustRegister(
		m.AlertsDelivered,
		m.AlertsRefused,
		m.CreditsSpent,
		m.CreditsGranted,
		m.JobsProcessed,
		m.QueueDepth,
		m.SweepDuration,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}
