package tier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "tiergate/pkg/domain-errors"
)

// Registry is the ordered tier catalog. It is read-only after construction
// and safe to share between goroutines without locking.
type Registry struct {
	tiers   []Tier
	byKey   map[string]int
	byProof map[RequirementKind]int
}

// NewRegistry validates tiers and orders them by ordinal. Input order is
// irrelevant.
func NewRegistry(tiers []Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier catalog is empty")
	}

	ordered := make([]Tier, len(tiers))
	for i, t := range tiers {
		ordered[i] = t.clone()
	}
	slices.SortFunc(ordered, func(a, b Tier) int { return a.Ordinal - b.Ordinal })

	r := &Registry{
		tiers:   ordered,
		byKey:   make(map[string]int, len(ordered)),
		byProof: make(map[RequirementKind]int),
	}
	var problems []string
	ordinals := make(map[int]string, len(ordered))
	for i, t := range ordered {
		if t.Key == "" {
			problems = append(problems, fmt.Sprintf("tier at ordinal %d has no key", t.Ordinal))
		}
		if t.Key == UnverifiedKey {
			problems = append(problems, fmt.Sprintf("tier key %q is reserved", UnverifiedKey))
		}
		if _, dup := r.byKey[t.Key]; dup {
			problems = append(problems, fmt.Sprintf("duplicate tier key %q", t.Key))
		}
		r.byKey[t.Key] = i

		if t.Ordinal <= 0 {
			problems = append(problems, fmt.Sprintf("tier %q: ordinal must be positive", t.Key))
		}
		if other, dup := ordinals[t.Ordinal]; dup {
			problems = append(problems, fmt.Sprintf("tiers %q and %q share ordinal %d", other, t.Key, t.Ordinal))
		}
		ordinals[t.Ordinal] = t.Key

		if len(t.RequiredProofs) == 0 {
			problems = append(problems, fmt.Sprintf("tier %q lists no required proofs", t.Key))
		}
		for _, k := range t.RequiredProofs {
			if !k.IsValid() {
				problems = append(problems, fmt.Sprintf("tier %q: unknown requirement %q", t.Key, k))
				continue
			}
			if owner, dup := r.byProof[k]; dup {
				problems = append(problems, fmt.Sprintf("requirement %q listed by both %q and %q", k, ordered[owner].Key, t.Key))
				continue
			}
			r.byProof[k] = i
		}
		for _, f := range t.UnlockedFeatures {
			if _, err := ParseFeatureFlag(string(f)); err != nil {
				problems = append(problems, fmt.Sprintf("tier %q: unknown feature %q", t.Key, f))
			}
		}

		for name, v := range map[string]decimal.Decimal{
			"daily_limit": t.DailyLimit, "monthly_limit": t.MonthlyLimit, "withdrawal_limit": t.WithdrawalLimit,
		} {
			if v.IsNegative() {
				problems = append(problems, fmt.Sprintf("tier %q: %s is negative", t.Key, name))
			}
		}
		if t.MonthlyLimit.LessThan(t.DailyLimit) {
			problems = append(problems, fmt.Sprintf("tier %q: monthly_limit below daily_limit", t.Key))
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return nil, fmt.Errorf("invalid tier catalog: %s", strings.Join(problems, "; "))
	}
	return r, nil
}

// TiersInOrder returns the catalog in ascending ordinal. The result is a copy.
func (r *Registry) TiersInOrder() []Tier {
	out := make([]Tier, len(r.tiers))
	for i, t := range r.tiers {
		out[i] = t.clone()
	}
	return out
}

// TierByKey returns the tier with key or a not_found error.
func (r *Registry) TierByKey(key string) (Tier, error) {
	i, ok := r.byKey[key]
	if !ok {
		return Tier{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("tier %q not found", key))
	}
	return r.tiers[i].clone(), nil
}

// Unverified is the sentinel tier: ordinal 0, zero limits, no features.
func (r *Registry) Unverified() Tier {
	return Tier{
		Key:             UnverifiedKey,
		Ordinal:         0,
		Name:            "Unverified",
		DailyLimit:      decimal.Zero,
		MonthlyLimit:    decimal.Zero,
		WithdrawalLimit: decimal.Zero,
	}
}

// TierOf returns the tier listing requirement k.
func (r *Registry) TierOf(k RequirementKind) (Tier, bool) {
	i, ok := r.byProof[k]
	if !ok {
		return Tier{}, false
	}
	return r.tiers[i].clone(), true
}

// Predecessor returns the tier immediately below t. The first tier has none.
func (r *Registry) Predecessor(t Tier) (Tier, bool) {
	i, ok := r.byKey[t.Key]
	if !ok || i == 0 {
		return Tier{}, false
	}
	return r.tiers[i-1].clone(), true
}

// Next returns the tier immediately above t. For the sentinel it is the
// first tier.
func (r *Registry) Next(t Tier) (Tier, bool) {
	if t.IsUnverified() {
		return r.tiers[0].clone(), true
	}
	i, ok := r.byKey[t.Key]
	if !ok || i == len(r.tiers)-1 {
		return Tier{}, false
	}
	return r.tiers[i+1].clone(), true
}

// Highest walks the catalog from the lowest ordinal and returns the last
// tier whose proofs all satisfy the predicate, stopping at the first gap.
// With no complete tier it returns the sentinel.
func (r *Registry) Highest(satisfied func(RequirementKind) bool) Tier {
	active := r.Unverified()
	for _, t := range r.tiers {
		for _, k := range t.RequiredProofs {
			if !satisfied(k) {
				return active
			}
		}
		active = t.clone()
	}
	return active
}
