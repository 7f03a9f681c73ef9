package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tiergate/internal/limits/metrics"
	"tiergate/internal/limits/models"
	"tiergate/internal/tier"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/requestcontext"
)

// TierResolver yields the user's active tier at the moment of the call.
type TierResolver interface {
	ActiveTier(ctx context.Context, userID id.UserID) (tier.Tier, error)
}

// Store runs the per-user check-and-increment atomically. Update hands fn
// the user's windows already rolled to now and persists them only when fn
// returns true.
type Store interface {
	Load(ctx context.Context, userID id.UserID, now time.Time) (models.Windows, error)
	Update(ctx context.Context, userID id.UserID, now time.Time, fn func(w *models.Windows) (bool, error)) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	tiers          TierResolver
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, tiers TierResolver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("usage store is required")
	}
	if tiers == nil {
		return nil, errors.New("tier resolver is required")
	}
	s := &Service{
		store:  store,
		tiers:  tiers,
		logger: slog.Default(),
		tracer: otel.Tracer("tiergate/limits"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authorize checks amount against the user's active tier and, when it fits,
// consumes it from every checked window in one atomic step.
//
// Trades are checked against the daily window. Withdrawals are checked
// against the per-operation withdrawal ceiling, then the daily and monthly
// windows. A denial is returned as a Decision, not an error.
func (s *Service) Authorize(ctx context.Context, userID id.UserID, op models.Operation, amount decimal.Decimal) (models.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "limits.Authorize", trace.WithAttributes(
		attribute.String("operation", string(op)),
	))
	defer span.End()
	start := time.Now()
	defer s.observe(start)

	if userID.IsNil() {
		return models.Decision{}, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if _, err := models.ParseOperation(string(op)); err != nil {
		return models.Decision{}, err
	}
	if err := models.ValidateAmount(amount); err != nil {
		return models.Decision{}, err
	}

	active, err := s.tiers.ActiveTier(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tier resolution failed")
		return models.Decision{}, err
	}
	span.SetAttributes(attribute.String("tier", active.Key))

	decision := models.Decision{Operation: op, Amount: amount, TierKey: active.Key}
	if active.IsUnverified() {
		decision.Reason = models.ReasonTierUnverified
		s.record(ctx, userID, decision)
		return decision, nil
	}

	now := requestcontext.Now(ctx).UTC()
	err = s.store.Update(ctx, userID, now, func(w *models.Windows) (bool, error) {
		decision = evaluate(active, op, amount, w)
		if !decision.Authorized {
			return false, nil
		}
		w.Daily.Consumed = w.Daily.Consumed.Add(amount)
		if op == models.OperationWithdrawal {
			w.Monthly.Consumed = w.Monthly.Consumed.Add(amount)
		}
		fillRemaining(&decision, active, op, w)
		return true, nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "usage store failed")
		s.logger.ErrorContext(ctx, "usage store unavailable",
			"user_id", userID,
			"operation", op,
			"error", err,
		)
		return models.Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "usage storage unavailable")
	}

	span.SetAttributes(attribute.Bool("authorized", decision.Authorized))
	s.record(ctx, userID, decision)
	return decision, nil
}

// evaluate decides without mutating w. Remaining headroom on a denial is
// reported for the limit that refused.
func evaluate(active tier.Tier, op models.Operation, amount decimal.Decimal, w *models.Windows) models.Decision {
	d := models.Decision{Operation: op, Amount: amount, TierKey: active.Key}
	deny := func(kind models.LimitKind) models.Decision {
		d.Reason = models.ReasonLimitExceeded
		d.LimitKind = kind
		d.RemainingDaily = models.Headroom(active.DailyLimit, w.Daily.Consumed)
		if op == models.OperationWithdrawal {
			rem := models.Headroom(active.MonthlyLimit, w.Monthly.Consumed)
			d.RemainingMonthly = &rem
		}
		return d
	}

	if op == models.OperationWithdrawal && amount.GreaterThan(active.WithdrawalLimit) {
		return deny(models.LimitWithdrawal)
	}
	if w.Daily.Consumed.Add(amount).GreaterThan(active.DailyLimit) {
		return deny(models.LimitDaily)
	}
	if op == models.OperationWithdrawal && w.Monthly.Consumed.Add(amount).GreaterThan(active.MonthlyLimit) {
		return deny(models.LimitMonthly)
	}
	d.Authorized = true
	return d
}

func fillRemaining(d *models.Decision, active tier.Tier, op models.Operation, w *models.Windows) {
	d.RemainingDaily = models.Headroom(active.DailyLimit, w.Daily.Consumed)
	if op == models.OperationWithdrawal {
		rem := models.Headroom(active.MonthlyLimit, w.Monthly.Consumed)
		d.RemainingMonthly = &rem
	}
}

// Usage reports the user's current windows against the active tier's limits
// without consuming anything.
func (s *Service) Usage(ctx context.Context, userID id.UserID) (models.Usage, error) {
	if userID.IsNil() {
		return models.Usage{}, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	active, err := s.tiers.ActiveTier(ctx, userID)
	if err != nil {
		return models.Usage{}, err
	}
	windows, err := s.store.Load(ctx, userID, requestcontext.Now(ctx).UTC())
	if err != nil {
		return models.Usage{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "usage storage unavailable")
	}
	return models.Usage{
		UserID:          userID,
		TierKey:         active.Key,
		WithdrawalLimit: active.WithdrawalLimit,
		Daily: models.WindowUsage{
			Window:    windows.Daily,
			Limit:     active.DailyLimit,
			Remaining: models.Headroom(active.DailyLimit, windows.Daily.Consumed),
		},
		Monthly: models.WindowUsage{
			Window:    windows.Monthly,
			Limit:     active.MonthlyLimit,
			Remaining: models.Headroom(active.MonthlyLimit, windows.Monthly.Consumed),
		},
	}, nil
}

func (s *Service) record(ctx context.Context, userID id.UserID, d models.Decision) {
	outcome := "authorized"
	if !d.Authorized {
		outcome = "denied"
	}
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(string(d.Operation), outcome, string(d.Reason)).Inc()
	}

	if d.Authorized {
		s.logAudit(ctx, string(audit.EventLimitAuthorized),
			"user_id", userID,
			"subject", string(d.Operation),
			"decision", outcome,
			"amount", d.Amount.String(),
			"tier", d.TierKey,
		)
		return
	}
	s.logAudit(ctx, string(audit.EventLimitDenied),
		"user_id", userID,
		"subject", string(d.Operation),
		"decision", outcome,
		"reason", string(d.Reason),
		"limit_kind", string(d.LimitKind),
		"amount", d.Amount.String(),
		"tier", d.TierKey,
	)
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.FromAttributes(event, attributes)); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

func (s *Service) observe(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAuthorize(start)
	}
}
