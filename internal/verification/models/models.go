package models

import (
	"time"

	"tiergate/internal/tier"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
)

// Status of one (user, requirement) record.
type Status string

const (
	StatusUnsatisfied Status = "unsatisfied"
	StatusPending     Status = "pending"
	StatusSatisfied   Status = "satisfied"
	StatusRejected    Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUnsatisfied, StatusPending, StatusSatisfied, StatusRejected:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown status: "+s)
}

// Source identifies who drove a transition.
type Source string

const (
	SourceProvider Source = "provider"
	SourceAdmin    Source = "admin"
)

// Record is the ledger row for one (user, requirement). Records are never
// deleted.
type Record struct {
	UserID       id.UserID
	Requirement  tier.RequirementKind
	Status       Status
	SatisfiedAt  *time.Time
	EvidenceRef  string
	LastEventSeq int64
	UpdatedAt    time.Time
}

func (r Record) IsSatisfied() bool { return r.Status == StatusSatisfied }

// Transition is one append-only history row.
type Transition struct {
	UserID      id.UserID
	Requirement tier.RequirementKind
	From        Status
	To          Status
	Source      Source
	EventSeq    int64
	EvidenceRef string
	ActorID     string
	Reason      string
	OccurredAt  time.Time
}

// Update is a provider callback after parsing.
type Update struct {
	UserID      id.UserID
	Requirement tier.RequirementKind
	Status      Status
	EvidenceRef string
	EventSeq    int64
}

const maxEvidenceRefLength = 512

func (u Update) Validate() error {
	if u.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if !u.Requirement.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown requirement")
	}
	if _, err := ParseStatus(string(u.Status)); err != nil {
		return dErrors.New(dErrors.CodeValidation, "unknown status")
	}
	if u.EventSeq <= 0 {
		return dErrors.New(dErrors.CodeValidation, "event_seq must be positive")
	}
	if len(u.EvidenceRef) > maxEvidenceRefLength {
		return dErrors.New(dErrors.CodeValidation, "evidence_ref is too long")
	}
	return nil
}

// Outcome describes what RecordRequirement did with an update.
type Outcome string

const (
	// OutcomeApplied: the record changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale: event_seq not newer than the stored one (replay or reorder).
	OutcomeStale Outcome = "stale"
	// OutcomeMonotonic: a provider tried to move a satisfied record backwards.
	OutcomeMonotonic Outcome = "monotonic_ignored"
	// OutcomeUnchanged: satisfied re-submitted as satisfied.
	OutcomeUnchanged Outcome = "unchanged"
)

// ApplyProviderUpdate decides how a provider update changes current, which
// is nil when no record exists. It returns the next record, the history row
// to append (nil when the status did not change) and the outcome. When the
// outcome is not OutcomeApplied nothing must be written.
func ApplyProviderUpdate(current *Record, u Update, now time.Time) (Record, *Transition, Outcome) {
	from := StatusUnsatisfied
	if current != nil {
		if u.EventSeq <= current.LastEventSeq {
			return *current, nil, OutcomeStale
		}
		if current.Status == StatusSatisfied {
			if u.Status == StatusSatisfied {
				return *current, nil, OutcomeUnchanged
			}
			return *current, nil, OutcomeMonotonic
		}
		from = current.Status
	}

	next := Record{
		UserID:       u.UserID,
		Requirement:  u.Requirement,
		Status:       u.Status,
		EvidenceRef:  u.EvidenceRef,
		LastEventSeq: u.EventSeq,
		UpdatedAt:    now,
	}
	if u.Status == StatusSatisfied {
		at := now
		next.SatisfiedAt = &at
	}

	if current != nil && from == u.Status {
		return next, nil, OutcomeApplied
	}
	return next, &Transition{
		UserID:      u.UserID,
		Requirement: u.Requirement,
		From:        from,
		To:          u.Status,
		Source:      SourceProvider,
		EventSeq:    u.EventSeq,
		EvidenceRef: u.EvidenceRef,
		OccurredAt:  now,
	}, OutcomeApplied
}

// ApplyAdminReject moves a record to rejected from any state. The provider
// event sequence is kept so later provider events still order correctly.
func ApplyAdminReject(current *Record, userID id.UserID, k tier.RequirementKind, actorID, reason string, now time.Time) (Record, Transition) {
	next := Record{UserID: userID, Requirement: k, Status: StatusRejected, UpdatedAt: now}
	from := StatusUnsatisfied
	if current != nil {
		from = current.Status
		next.EvidenceRef = current.EvidenceRef
		next.LastEventSeq = current.LastEventSeq
	}
	return next, Transition{
		UserID:      userID,
		Requirement: k,
		From:        from,
		To:          StatusRejected,
		Source:      SourceAdmin,
		EventSeq:    next.LastEventSeq,
		EvidenceRef: next.EvidenceRef,
		ActorID:     actorID,
		Reason:      reason,
		OccurredAt:  now,
	}
}

// Result is returned by RecordRequirement.
type Result struct {
	Outcome Outcome
	Record  Record
	// TierChanged is set when the update moved the user's active tier.
	TierChanged bool
	OldTier     string
	NewTier     string
}
