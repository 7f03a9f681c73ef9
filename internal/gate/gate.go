// Package gate computes a user's active tier from the verification ledger
// and answers progression questions.
//
// The predecessor check in CanRequestRequirement is a UX progression policy
// controlled by EnforceTierOrder. It is not a security boundary: limits are
// always derived from the gap-free active tier, whatever order proofs
// arrive in.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
)

// Ledger is the read side of the verification ledger.
type Ledger interface {
	RequirementsFor(ctx context.Context, userID id.UserID) (map[tier.RequirementKind]models.Record, error)
}

type Evaluator struct {
	registry         *tier.Registry
	ledger           Ledger
	enforceTierOrder bool
	logger           *slog.Logger
}

type Option func(*Evaluator)

// WithEnforceTierOrder toggles the predecessor check. Enabled by default.
func WithEnforceTierOrder(enabled bool) Option {
	return func(e *Evaluator) {
		e.enforceTierOrder = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func New(registry *tier.Registry, ledger Ledger, opts ...Option) (*Evaluator, error) {
	if registry == nil {
		return nil, errors.New("tier registry is required")
	}
	if ledger == nil {
		return nil, errors.New("verification ledger is required")
	}
	e := &Evaluator{
		registry:         registry,
		ledger:           ledger,
		enforceTierOrder: true,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ActiveTier returns the highest tier whose requirements, and those of every
// lower tier, are all satisfied. Users with no complete tier get the
// unverified sentinel.
func (e *Evaluator) ActiveTier(ctx context.Context, userID id.UserID) (tier.Tier, error) {
	records, err := e.records(ctx, userID)
	if err != nil {
		return tier.Tier{}, err
	}
	return e.registry.Highest(satisfiedIn(records)), nil
}

// Progress counts satisfied requirements of tierKey regardless of earlier
// tiers.
func (e *Evaluator) Progress(ctx context.Context, userID id.UserID, tierKey string) (Progress, error) {
	t, err := e.registry.TierByKey(tierKey)
	if err != nil {
		return Progress{}, dErrors.Wrap(err, dErrors.CodeValidation, "unknown tier key")
	}
	records, err := e.records(ctx, userID)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(t, satisfiedIn(records)), nil
}

// CanRequestRequirement reports whether a new verification attempt for k may
// start. With tier order enforced, k is allowed only once the active tier
// reaches k's predecessor, so proofs recorded out of order for a higher tier
// never open the next one. Refusals carry ReasonPredecessorIncomplete and the
// first incomplete tier.
func (e *Evaluator) CanRequestRequirement(ctx context.Context, userID id.UserID, k tier.RequirementKind) (Decision, error) {
	if !k.IsValid() {
		return Decision{}, dErrors.New(dErrors.CodeValidation, "unknown requirement")
	}
	owner, ok := e.registry.TierOf(k)
	if !ok {
		return Decision{}, dErrors.New(dErrors.CodeValidation, "requirement is not part of any tier")
	}
	if !e.enforceTierOrder {
		return Decision{Allowed: true, Tier: owner}, nil
	}

	pred, hasPred := e.registry.Predecessor(owner)
	if !hasPred {
		return Decision{Allowed: true, Tier: owner}, nil
	}
	records, err := e.records(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	active := e.registry.Highest(satisfiedIn(records))
	if active.Ordinal >= pred.Ordinal {
		return Decision{Allowed: true, Tier: owner}, nil
	}
	blocking, _ := e.registry.Next(active)

	e.logger.DebugContext(ctx, "verification attempt refused",
		"user_id", userID,
		"requirement", k,
		"tier", owner.Key,
		"blocking_tier", blocking.Key,
	)
	return Decision{Allowed: false, Reason: ReasonPredecessorIncomplete, Tier: owner, Blocking: &blocking}, nil
}

// HasFeature reports whether the user's active tier unlocks f.
func (e *Evaluator) HasFeature(ctx context.Context, userID id.UserID, f tier.FeatureFlag) (bool, error) {
	active, err := e.ActiveTier(ctx, userID)
	if err != nil {
		return false, err
	}
	return active.Unlocks(f), nil
}

// Snapshot reads the ledger once and reports the active tier, the next tier
// and per-tier progress.
func (e *Evaluator) Snapshot(ctx context.Context, userID id.UserID) (Snapshot, error) {
	records, err := e.records(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	satisfied := satisfiedIn(records)
	active := e.registry.Highest(satisfied)

	snap := Snapshot{
		Active:   active,
		Features: slices.Clone(active.UnlockedFeatures),
	}
	if next, ok := e.registry.Next(active); ok {
		snap.Next = &next
	}
	for _, t := range e.registry.TiersInOrder() {
		snap.Tiers = append(snap.Tiers, TierProgress{Tier: t, Progress: progressOf(t, satisfied)})
	}
	return snap, nil
}

func (e *Evaluator) records(ctx context.Context, userID id.UserID) (map[tier.RequirementKind]models.Record, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	return e.ledger.RequirementsFor(ctx, userID)
}

func satisfiedIn(records map[tier.RequirementKind]models.Record) func(tier.RequirementKind) bool {
	return func(k tier.RequirementKind) bool {
		return records[k].IsSatisfied()
	}
}

func progressOf(t tier.Tier, satisfied func(tier.RequirementKind) bool) Progress {
	p := Progress{Total: len(t.RequiredProofs)}
	for _, k := range t.RequiredProofs {
		if satisfied(k) {
			p.Completed++
		}
	}
	return p
}
