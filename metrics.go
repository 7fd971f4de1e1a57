package fieldkit

import "github.com/prometheus/client_golang/prometheus"

var CheckoutCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "checkouts",
}, []string{"kind", "mode"})

var CommitCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "commits",
}, []string{"kind", "result"})

var SyncWarningCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "sync_warnings",
}, []string{"kind"})

var RetrySubscriptionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "retry_subscriptions",
}, []string{"kind"})

var ReplayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "replay_duration_seconds",
	Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
}, []string{"kind"})

var ConnectivityStatus = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "fieldkit",
	Subsystem: "engine",
	Name:      "connectivity_status",
	Help:      "0 unknown, 1 online, 2 limited, 3 offline",
})

// MustRegister adds the engine's collectors to a registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		CheckoutCount,
		CommitCount,
		SyncWarningCount,
		RetrySubscriptionCount,
		ReplayDuration,
		ConnectivityStatus,
	)
}
