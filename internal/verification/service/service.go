package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tiergate/internal/tier"
	"tiergate/internal/verification/metrics"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/sentinel"
	"tiergate/pkg/requestcontext"
)

// Store is the ledger persistence port. Save is a compare-and-set against
// prev and returns sentinel.ErrConflict when another writer got there first.
type Store interface {
	Get(ctx context.Context, userID id.UserID, k tier.RequirementKind) (*models.Record, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]models.Record, error)
	Save(ctx context.Context, next models.Record, prev *models.Record, tr *models.Transition) error
	History(ctx context.Context, userID id.UserID) ([]models.Transition, error)
}

// TxRunner groups the ledger write and its audit entries.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	defaultCASAttempts = 8
	maxReasonLength    = 500
)

// Service owns the verification ledger.
type Service struct {
	store          Store
	registry       *tier.Registry
	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	casAttempts    int
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

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func New(store Store, registry *tier.Registry, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("verification store is required")
	}
	if registry == nil {
		return nil, errors.New("tier registry is required")
	}
	s := &Service{
		store:       store,
		registry:    registry,
		tx:          noopTx{},
		logger:      slog.Default(),
		casAttempts: defaultCASAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type noopTx struct{}

func (noopTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// RecordRequirement applies a provider callback. Replays and out-of-order
// deliveries (event_seq not newer than stored) are no-ops, and a satisfied
// requirement never moves backwards through this path.
func (s *Service) RecordRequirement(ctx context.Context, u models.Update) (*models.Result, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer s.observeWrite(start)

	return s.casLoop(ctx, u.UserID, u.Requirement, models.SourceProvider, func(records map[tier.RequirementKind]models.Record, current *models.Record, now time.Time) (models.Record, *models.Transition, models.Outcome) {
		return models.ApplyProviderUpdate(current, u, now)
	})
}

// AdminReject is the privileged override that may move any record,
// including a satisfied one, to rejected.
func (s *Service) AdminReject(ctx context.Context, userID id.UserID, k tier.RequirementKind, actorID, reason string) (*models.Result, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if !k.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown requirement")
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "admin actor required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}

	return s.casLoop(ctx, userID, k, models.SourceAdmin, func(_ map[tier.RequirementKind]models.Record, current *models.Record, now time.Time) (models.Record, *models.Transition, models.Outcome) {
		next, tr := models.ApplyAdminReject(current, userID, k, actorID, reason, now)
		return next, &tr, models.OutcomeApplied
	})
}

type decideFunc func(records map[tier.RequirementKind]models.Record, current *models.Record, now time.Time) (models.Record, *models.Transition, models.Outcome)

// casLoop reads the user's records, lets decide compute the next record and
// writes it with compare-and-set, re-reading after every lost race.
func (s *Service) casLoop(ctx context.Context, userID id.UserID, k tier.RequirementKind, source models.Source, decide decideFunc) (*models.Result, error) {
	now := requestcontext.Now(ctx).UTC()

	for attempt := 1; attempt <= s.casAttempts; attempt++ {
		records, err := s.requirements(ctx, userID)
		if err != nil {
			return nil, err
		}
		var current *models.Record
		if rec, ok := records[k]; ok {
			current = &rec
		}

		next, tr, outcome := decide(records, current, now)
		if outcome != models.OutcomeApplied {
			s.countWrite(source, outcome)
			s.logger.DebugContext(ctx, "ledger update skipped",
				"user_id", userID,
				"requirement", k,
				"outcome", outcome,
			)
			return &models.Result{Outcome: outcome, Record: next}, nil
		}

		before := s.activeTier(records)
		records[k] = next
		after := s.activeTier(records)

		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.Save(ctx, next, current, tr); err != nil {
				return err
			}
			if tr != nil {
				s.auditTransition(ctx, *tr)
			}
			if before.Key != after.Key {
				s.logAudit(ctx, string(audit.EventTierChanged),
					"user_id", userID,
					"subject", string(k),
					"old_tier", before.Key,
					"new_tier", after.Key,
				)
			}
			return nil
		})
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.CASConflicts.Inc()
			}
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "verification storage unavailable")
		}

		s.countWrite(source, outcome)
		result := &models.Result{Outcome: outcome, Record: next}
		if before.Key != after.Key {
			result.TierChanged = true
			result.OldTier = before.Key
			result.NewTier = after.Key
			if s.metrics != nil {
				s.metrics.TierChanges.Inc()
			}
		}
		return result, nil
	}

	s.logger.WarnContext(ctx, "ledger compare-and-set retries exhausted",
		"user_id", userID,
		"requirement", k,
		"attempts", s.casAttempts,
	)
	return nil, dErrors.New(dErrors.CodeUnavailable, "verification storage contended, retry later")
}

// RequirementsFor returns the user's records keyed by requirement. Absent
// requirements are simply missing from the map.
func (s *Service) RequirementsFor(ctx context.Context, userID id.UserID) (map[tier.RequirementKind]models.Record, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	return s.requirements(ctx, userID)
}

func (s *Service) requirements(ctx context.Context, userID id.UserID) (map[tier.RequirementKind]models.Record, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "verification storage unavailable")
	}
	out := make(map[tier.RequirementKind]models.Record, len(records))
	for _, r := range records {
		out[r.Requirement] = r
	}
	return out, nil
}

// History returns every recorded status transition for the user, oldest first.
func (s *Service) History(ctx context.Context, userID id.UserID) ([]models.Transition, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	history, err := s.store.History(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "verification storage unavailable")
	}
	return history, nil
}

func (s *Service) activeTier(records map[tier.RequirementKind]models.Record) tier.Tier {
	return s.registry.Highest(func(k tier.RequirementKind) bool {
		return records[k].IsSatisfied()
	})
}

func (s *Service) auditTransition(ctx context.Context, tr models.Transition) {
	if tr.Source == models.SourceAdmin {
		s.logAudit(ctx, string(audit.EventRequirementRejectedByAdmin),
			"user_id", tr.UserID,
			"subject", string(tr.Requirement),
			"actor_id", tr.ActorID,
			"reason", tr.Reason,
			"from_status", string(tr.From),
		)
		return
	}
	s.logAudit(ctx, string(audit.EventRequirementRecorded),
		"user_id", tr.UserID,
		"subject", string(tr.Requirement),
		"decision", string(tr.To),
		"from_status", string(tr.From),
		"event_seq", tr.EventSeq,
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

func (s *Service) countWrite(source models.Source, outcome models.Outcome) {
	if s.metrics != nil {
		s.metrics.LedgerWrites.WithLabelValues(string(source), string(outcome)).Inc()
	}
}

func (s *Service) observeWrite(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerWrite(start)
	}
}
