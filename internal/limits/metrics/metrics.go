package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	platformmetrics "tiergate/internal/platform/metrics"
)

// Metrics provides observability for limit enforcement.
type Metrics struct {
	Decisions         *prometheus.CounterVec
	AuthorizeDuration prometheus.Histogram
	StoreErrors       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_limit_decisions_total",
			Help: "Authorization decisions by operation, outcome and denial reason",
		}, []string{"operation", "outcome", "reason"}),
		AuthorizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiergate_limit_authorize_duration_seconds",
			Help:    "Duration of Authorize including tier resolution",
			Buckets: platformmetrics.LatencyBuckets,
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "tiergate_limit_store_errors_total",
			Help: "Authorizations that failed because usage storage was unavailable",
		}),
	}
}

func (m *Metrics) ObserveAuthorize(start time.Time) {
	m.AuthorizeDuration.Observe(time.Since(start).Seconds())
}
