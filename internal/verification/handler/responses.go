package handler

import (
	"time"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
)

type RecordResponse struct {
	UserID      string `json:"user_id"`
	Requirement string `json:"requirement"`
	Status      string `json:"status"`
	EventSeq    int64  `json:"event_seq"`
	Outcome     string `json:"outcome"`
	TierChanged bool   `json:"tier_changed"`
	OldTier     string `json:"old_tier,omitempty"`
	NewTier     string `json:"new_tier,omitempty"`
}

func fromResult(res *models.Result) RecordResponse {
	return RecordResponse{
		UserID:      res.Record.UserID.String(),
		Requirement: string(res.Record.Requirement),
		Status:      string(res.Record.Status),
		EventSeq:    res.Record.LastEventSeq,
		Outcome:     string(res.Outcome),
		TierChanged: res.TierChanged,
		OldTier:     res.OldTier,
		NewTier:     res.NewTier,
	}
}

type RequirementResponse struct {
	Requirement  string     `json:"requirement"`
	Status       string     `json:"status"`
	SatisfiedAt  *time.Time `json:"satisfied_at,omitempty"`
	EvidenceRef  string     `json:"evidence_ref,omitempty"`
	LastEventSeq int64      `json:"last_event_seq"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

type RequirementsResponse struct {
	UserID       string                `json:"user_id"`
	Requirements []RequirementResponse `json:"requirements"`
}

// fromRecords lists every known requirement; ones without a record are
// reported as unsatisfied.
func fromRecords(userID id.UserID, records map[tier.RequirementKind]models.Record, kinds []tier.RequirementKind) RequirementsResponse {
	out := RequirementsResponse{UserID: userID.String(), Requirements: make([]RequirementResponse, 0, len(kinds))}
	for _, k := range kinds {
		rec, ok := records[k]
		if !ok {
			out.Requirements = append(out.Requirements, RequirementResponse{
				Requirement: string(k),
				Status:      string(models.StatusUnsatisfied),
			})
			continue
		}
		updated := rec.UpdatedAt
		out.Requirements = append(out.Requirements, RequirementResponse{
			Requirement:  string(k),
			Status:       string(rec.Status),
			SatisfiedAt:  rec.SatisfiedAt,
			EvidenceRef:  rec.EvidenceRef,
			LastEventSeq: rec.LastEventSeq,
			UpdatedAt:    &updated,
		})
	}
	return out
}

type TransitionResponse struct {
	Requirement string    `json:"requirement"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Source      string    `json:"source"`
	EventSeq    int64     `json:"event_seq"`
	ActorID     string    `json:"actor_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type HistoryResponse struct {
	UserID      string               `json:"user_id"`
	Transitions []TransitionResponse `json:"transitions"`
}

func fromHistory(userID id.UserID, history []models.Transition) HistoryResponse {
	out := HistoryResponse{UserID: userID.String(), Transitions: make([]TransitionResponse, 0, len(history))}
	for _, tr := range history {
		out.Transitions = append(out.Transitions, TransitionResponse{
			Requirement: string(tr.Requirement),
			From:        string(tr.From),
			To:          string(tr.To),
			Source:      string(tr.Source),
			EventSeq:    tr.EventSeq,
			ActorID:     tr.ActorID,
			Reason:      tr.Reason,
			OccurredAt:  tr.OccurredAt,
		})
	}
	return out
}
