package providers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	platformmetrics "tiergate/internal/platform/metrics"
)

type Metrics struct {
	CallDuration *prometheus.HistogramVec
	BreakerOpen  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiergate_provider_call_duration_seconds",
			Help:    "Provider call latency including retries, by provider, operation and outcome category",
			Buckets: platformmetrics.LatencyBuckets,
		}, []string{"provider", "operation", "outcome"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiergate_provider_breaker_open",
			Help: "1 while the provider's circuit breaker is open",
		}, []string{"provider"}),
	}
}

func (m *Metrics) observe(provider, operation, outcome string, start time.Time) {
	m.CallDuration.WithLabelValues(provider, operation, outcome).Observe(time.Since(start).Seconds())
}
