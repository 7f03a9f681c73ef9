package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	platformmetrics "tiergate/internal/platform/metrics"
)

// Metrics provides observability for the verification ledger and its
// webhook.
type Metrics struct {
	LedgerWrites         *prometheus.CounterVec
	LedgerWriteDuration  prometheus.Histogram
	CASConflicts         prometheus.Counter
	TierChanges          prometheus.Counter
	SignatureRejections  *prometheus.CounterVec
	WebhookStorageErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LedgerWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_ledger_writes_total",
			Help: "Ledger updates by source and outcome (applied, stale, monotonic_ignored, unchanged)",
		}, []string{"source", "outcome"}),
		LedgerWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiergate_ledger_write_duration_seconds",
			Help:    "Duration of RecordRequirement including compare-and-set retries",
			Buckets: platformmetrics.LatencyBuckets,
		}),
		CASConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "tiergate_ledger_cas_conflicts_total",
			Help: "Compare-and-set attempts lost to a concurrent writer",
		}),
		TierChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "tiergate_tier_changes_total",
			Help: "Ledger writes that moved a user's active tier",
		}),
		SignatureRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiergate_kyc_webhook_signature_rejections_total",
			Help: "KYC callbacks rejected before touching the ledger, by reason",
		}, []string{"reason"}),
		WebhookStorageErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "tiergate_kyc_webhook_storage_errors_total",
			Help: "KYC callbacks answered 503 after in-process retries were exhausted",
		}),
	}
}

// ObserveLedgerWrite records the duration of a ledger write.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLedgerWrite(start time.Time) {
	m.LedgerWriteDuration.Observe(time.Since(start).Seconds())
}
