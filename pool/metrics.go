package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the server pool
type Metrics struct {
	UsersActive       prometheus.Gauge
	Listeners         *prometheus.GaugeVec
	ReconcileCycles   prometheus.Counter
	ReconcileFailures *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		UsersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shadowpool_users_active",
			Help: "Number of users with running listeners",
		}),
		Listeners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shadowpool_listeners",
			Help: "Number of running listeners by network",
		}, []string{"network"}),
		ReconcileCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowpool_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles",
		}),
		ReconcileFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowpool_reconcile_failures_total",
			Help: "Total number of reconciliation failures by reason",
		}, []string{"reason"}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadowpool_reconcile_duration_seconds",
			Help:    "Time spent in one reconciliation cycle",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
	}
}
