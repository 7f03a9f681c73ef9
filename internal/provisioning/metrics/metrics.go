package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	platformmetrics "tiergate/internal/platform/metrics"
)

// Metrics provides observability for the provisioning saga and its
// reconciler.
type Metrics struct {
	Signups              *prometheus.CounterVec
	SignupDuration       prometheus.Histogram
	Compensations        *prometheus.CounterVec
	ReconcilerRuns       *prometheus.CounterVec
	ReconciledTxns       *prometheus.CounterVec
	PurgedTransactions   prometheus.Counter
	ReconcilerRunSeconds prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Signups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_signups_total",
			Help: "Signup outcomes by failed step (none on success) and reason",
		}, []string{"outcome", "step", "reason"}),
		SignupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiergate_signup_duration_seconds",
			Help:    "Duration of the provisioning saga including compensation",
			Buckets: platformmetrics.LatencyBuckets,
		}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_provisioning_compensations_total",
			Help: "Identity account rollbacks by trigger (saga, reconciler) and outcome",
		}, []string{"trigger", "outcome"}),
		ReconcilerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_reconciler_runs_total",
			Help: "Reconciler passes by outcome",
		}, []string{"outcome"}),
		ReconciledTxns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_reconciler_transactions_total",
			Help: "Pending transactions handled by the reconciler, by outcome",
		}, []string{"outcome"}),
		PurgedTransactions: f.NewCounter(prometheus.CounterOpts{
			Name: "tiergate_reconciler_purged_transactions_total",
			Help: "Terminal transactions deleted after the retention period",
		}),
		ReconcilerRunSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiergate_reconciler_run_duration_seconds",
			Help:    "Duration of one reconciler pass",
			Buckets: platformmetrics.LatencyBuckets,
		}),
	}
}

func (m *Metrics) ObserveSignup(start time.Time) {
	m.SignupDuration.Observe(time.Since(start).Seconds())
}
