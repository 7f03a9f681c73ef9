// Package reconciler finishes provisioning transactions that a saga left
// pending, either because compensation failed or because the process died
// mid-saga, and purges terminal transactions after their retention period.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tiergate/internal/provisioning/metrics"
	"tiergate/internal/provisioning/models"
)

type Store interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// Compensator rolls one pending transaction back.
type Compensator interface {
	Compensate(ctx context.Context, txn models.Transaction) error
}

const defaultBatchSize = 100

type Reconciler struct {
	store       Store
	compensator Compensator
	interval    time.Duration
	grace       time.Duration
	retention   time.Duration
	concurrency int
	batchSize   int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithGrace sets how long a transaction may sit pending before it is
// treated as abandoned. It must exceed the longest a live saga can take.
func WithGrace(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithRetention sets how long terminal transactions are kept. Zero keeps
// them forever.
func WithRetention(d time.Duration) Option {
	return func(r *Reconciler) {
		r.retention = d
	}
}

func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store Store, compensator Compensator, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("provisioning store is required")
	}
	if compensator == nil {
		return nil, errors.New("compensator is required")
	}
	r := &Reconciler{
		store:       store,
		compensator: compensator,
		interval:    30 * time.Second,
		grace:       2 * time.Minute,
		retention:   72 * time.Hour,
		concurrency: 4,
		batchSize:   defaultBatchSize,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Report summarizes one pass.
type Report struct {
	Found       int
	Compensated int
	Failed      int
	Purged      int64
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reconciler pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce compensates one batch of abandoned transactions and purges expired
// terminal ones. A failed compensation is counted and left for the next
// pass; only listing or purging errors are returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	report, err := r.runOnce(ctx)
	if r.metrics != nil {
		r.metrics.ReconcilerRunSeconds.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.ReconcilerRuns.WithLabelValues(outcome).Inc()
	}
	return report, err
}

func (r *Reconciler) runOnce(ctx context.Context) (Report, error) {
	var report Report
	now := r.now().UTC()

	pending, err := r.store.ListPending(ctx, now.Add(-r.grace), r.batchSize)
	if err != nil {
		return report, err
	}
	report.Found = len(pending)

	var compensated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, txn := range pending {
		g.Go(func() error {
			if err := r.compensator.Compensate(ctx, txn); err != nil {
				failed.Add(1)
				r.count("failed")
				r.logger.WarnContext(ctx, "reconciler could not roll back transaction",
					"transaction_id", txn.ID.String(),
					"state", string(txn.State),
					"attempts", txn.Attempts+1,
					"error", err,
				)
				return nil
			}
			compensated.Add(1)
			r.count("rolled_back")
			return nil
		})
	}
	_ = g.Wait()
	report.Compensated = int(compensated.Load())
	report.Failed = int(failed.Load())

	if r.retention > 0 {
		purged, err := r.store.PurgeTerminal(ctx, now.Add(-r.retention))
		if err != nil {
			return report, err
		}
		report.Purged = purged
		if r.metrics != nil {
			r.metrics.PurgedTransactions.Add(float64(purged))
		}
	}

	if report.Found > 0 || report.Purged > 0 {
		r.logger.InfoContext(ctx, "reconciler pass complete",
			"found", report.Found,
			"compensated", report.Compensated,
			"failed", report.Failed,
			"purged", report.Purged,
		)
	}
	return report, nil
}

func (r *Reconciler) count(outcome string) {
	if r.metrics != nil {
		r.metrics.ReconciledTxns.WithLabelValues(outcome).Inc()
	}
}
