// Package service runs the account provisioning saga: an identity account,
// then an exchange sub-account, with the identity account deleted again when
// the second step fails.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tiergate/internal/providers"
	"tiergate/internal/provisioning/metrics"
	"tiergate/internal/provisioning/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/retry"
	"tiergate/pkg/platform/sentinel"
	"tiergate/pkg/requestcontext"
)

// Store persists saga progress. Transition is conditional on the stored
// state and returns sentinel.ErrConflict when it moved.
type Store interface {
	Create(ctx context.Context, txn models.Transaction) error
	Get(ctx context.Context, txnID id.TransactionID) (*models.Transaction, error)
	Transition(ctx context.Context, from models.State, next models.Transaction) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	triggerSaga       = "saga"
	triggerReconciler = "reconciler"

	defaultCompensationTimeout = 30 * time.Second
)

var defaultCompensationPolicy = retry.Policy{
	MaxRetries:      5,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

type Service struct {
	identity            providers.IdentityProvider
	exchange            providers.ExchangeAccountProvider
	store               Store
	compensation        retry.Policy
	compensationTimeout time.Duration
	storeRetry          retry.Policy
	logger              *slog.Logger
	auditPublisher      AuditPublisher
	metrics             *metrics.Metrics
	tracer              trace.Tracer
	now                 func() time.Time
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
		if t != nil {
			s.tracer = t
		}
	}
}

// WithCompensationPolicy bounds the DeleteAccount retries of a rollback.
func WithCompensationPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.compensation = p
	}
}

// WithStoreRetryPolicy bounds retries of the first and last saga writes.
func WithStoreRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.storeRetry = p
	}
}

// WithCompensationTimeout bounds a rollback, including the settling of an
// identity account whose saga row could not be written.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(identity providers.IdentityProvider, exchange providers.ExchangeAccountProvider, store Store, opts ...Option) (*Service, error) {
	if identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if exchange == nil {
		return nil, errors.New("exchange provider is required")
	}
	if store == nil {
		return nil, errors.New("provisioning store is required")
	}
	s := &Service{
		identity:            identity,
		exchange:            exchange,
		store:               store,
		compensation:        defaultCompensationPolicy,
		compensationTimeout: defaultCompensationTimeout,
		storeRetry:          retry.DefaultPolicy,
		logger:              slog.Default(),
		tracer:              otel.Tracer("tiergate/provisioning"),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Signup provisions both accounts. It returns only once the transaction is
// completed, rolled back, or persisted where the reconciler will find it.
// Provider failures surface as *models.SignupFailed.
func (s *Service) Signup(ctx context.Context, req models.SignupRequest) (*models.Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveSignup(start)
	}
	ctx, span := s.tracer.Start(ctx, "provisioning.Signup")
	defer span.End()

	identityID, err := s.identity.CreateAccount(ctx, req.Email, req.Profile)
	if err != nil {
		return nil, s.fail(ctx, span, nil, models.StepIdentity, err)
	}

	now := s.now().UTC()
	txn := models.Transaction{
		ID:                id.NewTransactionID(),
		Email:             req.Email,
		IdentityAccountID: identityID,
		State:             models.StateIdentityCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(attribute.String("transaction_id", txn.ID.String()))

	if err := s.createRecord(ctx, txn); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist provisioning transaction",
			"transaction_id", txn.ID.String(),
			"error", err,
		)
		s.settleUnrecorded(ctx, txn)
		return nil, s.storageFailure(ctx, span, &txn, err)
	}

	pending := txn
	pending.State = models.StateExchangePending
	pending.UpdatedAt = s.now().UTC()
	if err := s.store.Transition(ctx, models.StateIdentityCreated, pending); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark exchange step pending",
			"transaction_id", txn.ID.String(),
			"error", err,
		)
		_ = s.compensate(ctx, txn, triggerSaga)
		return nil, s.storageFailure(ctx, span, &txn, err)
	}
	txn = pending

	subAccountID, err := s.exchange.CreateSubAccount(ctx, identityID, req.Profile)
	if err != nil {
		s.logger.WarnContext(ctx, "exchange step failed, compensating",
			"transaction_id", txn.ID.String(),
			"category", string(providers.CategoryOf(err)),
		)
		_ = s.compensate(ctx, txn, triggerSaga)
		return nil, s.fail(ctx, span, &txn, models.StepExchange, err)
	}

	completed := txn
	completed.State = models.StateCompleted
	completed.ExchangeAccountID = &subAccountID
	completed.UpdatedAt = s.now().UTC()
	err = retry.Do(ctx, s.storeRetry, func(err error) bool {
		return !errors.Is(err, sentinel.ErrConflict) && !errors.Is(err, sentinel.ErrNotFound)
	}, nil, func(ctx context.Context) error {
		return s.store.Transition(ctx, models.StateExchangePending, completed)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// The reconciler rolled this transaction back while the exchange
		// call was in flight.
		s.logger.ErrorContext(ctx, "transaction rolled back before completion",
			"transaction_id", txn.ID.String(),
			"exchange_account_id", subAccountID,
		)
		return nil, s.fail(ctx, span, &txn, models.StepExchange,
			providers.NewError(providers.CategoryUnavailable, "provisioning", "rolled back by reconciler", err))
	}
	if err != nil {
		return nil, s.storageFailure(ctx, span, &txn, err)
	}

	s.countSignup("completed", "", "")
	s.logAudit(ctx, string(audit.EventAccountProvisioned),
		"user_id", identityID,
		"subject", txn.ID.String(),
		"exchange_account_id", subAccountID,
	)
	return &models.Result{
		TransactionID:     txn.ID,
		IdentityID:        identityID,
		ExchangeAccountID: subAccountID,
	}, nil
}

// Compensate drives a pending transaction to rolled_back. The reconciler
// calls it for transactions abandoned by a crashed or failed saga.
func (s *Service) Compensate(ctx context.Context, txn models.Transaction) error {
	if txn.State.IsTerminal() {
		return nil
	}
	return s.compensate(ctx, txn, triggerReconciler)
}

// Transaction returns a stored saga by id.
func (s *Service) Transaction(ctx context.Context, txnID id.TransactionID) (*models.Transaction, error) {
	txn, err := s.store.Get(ctx, txnID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "provisioning storage unavailable")
	}
	return txn, nil
}

// compensate deletes the identity account of a persisted transaction,
// treating not_found as done. It runs detached from the caller's
// cancellation so an abandoned request still rolls back.
func (s *Service) compensate(ctx context.Context, txn models.Transaction, trigger string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "provisioning.Compensate", trace.WithAttributes(
		attribute.String("transaction_id", txn.ID.String()),
		attribute.String("trigger", trigger),
	))
	defer span.End()

	from := txn.State
	err := retry.Do(ctx, s.compensation, providers.IsRetryable, func(err error, next time.Duration) {
		s.logger.WarnContext(ctx, "identity rollback failed, retrying",
			"transaction_id", txn.ID.String(),
			"category", string(providers.CategoryOf(err)),
			"retry_in", next,
		)
	}, func(ctx context.Context) error {
		err := s.identity.DeleteAccount(ctx, txn.IdentityAccountID)
		if providers.IsCategory(err, providers.CategoryNotFound) {
			return nil
		}
		return err
	})

	txn.Attempts++
	txn.UpdatedAt = s.now().UTC()
	if err != nil {
		txn.LastError = string(providers.CategoryOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		if perr := s.store.Transition(ctx, from, txn); perr != nil {
			s.logger.ErrorContext(ctx, "failed to record compensation attempt",
				"transaction_id", txn.ID.String(),
				"error", perr,
			)
		}
		s.countCompensation(trigger, "failed")
		s.logAudit(ctx, string(audit.EventCompensationFailed),
			"user_id", txn.IdentityAccountID,
			"subject", txn.ID.String(),
			"reason", txn.LastError,
			"trigger", trigger,
			"attempts", txn.Attempts,
		)
		return err
	}

	txn.State = models.StateRolledBack
	if perr := s.store.Transition(ctx, from, txn); perr != nil {
		if errors.Is(perr, sentinel.ErrConflict) {
			s.logger.InfoContext(ctx, "transaction already resolved by another worker",
				"transaction_id", txn.ID.String(),
			)
			return nil
		}
		s.logger.ErrorContext(ctx, "failed to record rollback",
			"transaction_id", txn.ID.String(),
			"error", perr,
		)
		return dErrors.Wrap(perr, dErrors.CodeUnavailable, "provisioning storage unavailable")
	}
	s.countCompensation(trigger, "rolled_back")
	s.logAudit(ctx, string(audit.EventAccountRolledBack),
		"user_id", txn.IdentityAccountID,
		"subject", txn.ID.String(),
		"trigger", trigger,
		"attempts", txn.Attempts,
	)
	return nil
}

// createRecord writes the first saga row. A conflict means an earlier
// attempt landed before its acknowledgement was lost.
func (s *Service) createRecord(ctx context.Context, txn models.Transaction) error {
	return retry.Do(ctx, s.storeRetry, nil, nil, func(ctx context.Context) error {
		err := s.store.Create(ctx, txn)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return err
	})
}

// settleUnrecorded handles an identity account that no saga row points at.
// Each round tries to delete the account and, failing that, to record the
// transaction so the reconciler owns the rollback. It gives up only when the
// compensation timeout expires, leaving an orphan that is logged and audited
// with the identity id and email.
func (s *Service) settleUnrecorded(ctx context.Context, txn models.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "provisioning.SettleUnrecorded", trace.WithAttributes(
		attribute.String("transaction_id", txn.ID.String()),
	))
	defer span.End()

	var deleted, recorded bool
	err := retry.Do(ctx, s.compensation, nil, func(err error, next time.Duration) {
		s.logger.WarnContext(ctx, "unrecorded identity account not settled, retrying",
			"transaction_id", txn.ID.String(),
			"identity_account_id", txn.IdentityAccountID,
			"retry_in", next,
			"error", err,
		)
	}, func(ctx context.Context) error {
		txn.Attempts++
		derr := s.identity.DeleteAccount(ctx, txn.IdentityAccountID)
		if derr == nil || providers.IsCategory(derr, providers.CategoryNotFound) {
			deleted = true
			return nil
		}
		txn.LastError = string(providers.CategoryOf(derr))
		txn.UpdatedAt = s.now().UTC()
		cerr := s.store.Create(ctx, txn)
		if cerr == nil || errors.Is(cerr, sentinel.ErrConflict) {
			recorded = true
			return nil
		}
		return errors.Join(derr, cerr)
	})

	switch {
	case deleted:
		s.countCompensation(triggerSaga, "rolled_back")
		s.logAudit(ctx, string(audit.EventAccountRolledBack),
			"user_id", txn.IdentityAccountID,
			"subject", txn.ID.String(),
			"trigger", triggerSaga,
			"attempts", txn.Attempts,
		)
	case recorded:
		s.countCompensation(triggerSaga, "failed")
		s.logAudit(ctx, string(audit.EventCompensationFailed),
			"user_id", txn.IdentityAccountID,
			"subject", txn.ID.String(),
			"reason", txn.LastError,
			"trigger", triggerSaga,
			"attempts", txn.Attempts,
		)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity account orphaned")
		s.countCompensation(triggerSaga, "orphaned")
		s.logger.ErrorContext(ctx, "identity account orphaned without a saga record",
			"transaction_id", txn.ID.String(),
			"identity_account_id", txn.IdentityAccountID,
			"email", txn.Email,
			"error", err,
		)
		s.logAudit(ctx, string(audit.EventCompensationFailed),
			"user_id", txn.IdentityAccountID,
			"subject", txn.ID.String(),
			"reason", "orphaned",
			"email", txn.Email,
			"trigger", triggerSaga,
			"attempts", txn.Attempts,
		)
	}
}

func (s *Service) fail(ctx context.Context, span trace.Span, txn *models.Transaction, step models.Step, cause error) error {
	failed := &models.SignupFailed{Step: step, Reason: models.ReasonFor(cause)}
	span.RecordError(failed)
	span.SetStatus(codes.Error, string(failed.Reason))
	s.countSignup("failed", string(step), string(failed.Reason))

	attrs := []any{
		"reason", string(failed.Reason),
		"step", string(step),
		"category", string(providers.CategoryOf(cause)),
	}
	if txn != nil {
		attrs = append(attrs, "user_id", txn.IdentityAccountID, "subject", txn.ID.String())
	}
	s.logAudit(ctx, string(audit.EventSignupFailed), attrs...)
	return failed
}

func (s *Service) storageFailure(ctx context.Context, span trace.Span, txn *models.Transaction, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "storage")
	s.countSignup("failed", "storage", "storage_unavailable")
	s.logAudit(ctx, string(audit.EventSignupFailed),
		"user_id", txn.IdentityAccountID,
		"subject", txn.ID.String(),
		"reason", "storage_unavailable",
	)
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "provisioning storage unavailable")
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

func (s *Service) countSignup(outcome, step, reason string) {
	if s.metrics != nil {
		s.metrics.Signups.WithLabelValues(outcome, step, reason).Inc()
	}
}

func (s *Service) countCompensation(trigger, outcome string) {
	if s.metrics != nil {
		s.metrics.Compensations.WithLabelValues(trigger, outcome).Inc()
	}
}
