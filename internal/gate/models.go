package gate

import "tiergate/internal/tier"

// Progress counts satisfied requirements within one tier.
type Progress struct {
	Completed int
	Total     int
}

func (p Progress) Complete() bool { return p.Total > 0 && p.Completed == p.Total }

// DenialReason is a machine-readable reason for refusing a verification
// attempt.
type DenialReason string

const ReasonPredecessorIncomplete DenialReason = "predecessor_incomplete"

// Decision is the answer of CanRequestRequirement. A refusal is a value, not
// an error.
type Decision struct {
	Allowed bool
	Reason  DenialReason
	// Tier is the tier listing the requirement.
	Tier tier.Tier
	// Blocking is the lowest incomplete tier when Reason is
	// ReasonPredecessorIncomplete.
	Blocking *tier.Tier
}

// TierProgress pairs a catalog tier with the user's progress on it.
type TierProgress struct {
	Tier     tier.Tier
	Progress Progress
}

// Snapshot is a read model of a user's standing across the catalog.
type Snapshot struct {
	Active   tier.Tier
	Next     *tier.Tier
	Tiers    []TierProgress
	Features []tier.FeatureFlag
}
