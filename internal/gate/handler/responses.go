package handler

import (
	"tiergate/internal/gate"
	"tiergate/internal/tier"
)

type TierResponse struct {
	Key             string   `json:"key"`
	Ordinal         int      `json:"ordinal"`
	Name            string   `json:"name"`
	RequiredProofs  []string `json:"required_proofs"`
	DailyLimit      string   `json:"daily_limit"`
	MonthlyLimit    string   `json:"monthly_limit"`
	WithdrawalLimit string   `json:"withdrawal_limit"`
	Features        []string `json:"features"`
}

func fromTier(t tier.Tier) TierResponse {
	resp := TierResponse{
		Key:             t.Key,
		Ordinal:         t.Ordinal,
		Name:            t.Name,
		RequiredProofs:  make([]string, 0, len(t.RequiredProofs)),
		DailyLimit:      t.DailyLimit.String(),
		MonthlyLimit:    t.MonthlyLimit.String(),
		WithdrawalLimit: t.WithdrawalLimit.String(),
		Features:        featureStrings(t.UnlockedFeatures),
	}
	for _, k := range t.RequiredProofs {
		resp.RequiredProofs = append(resp.RequiredProofs, string(k))
	}
	return resp
}

func featureStrings(flags []tier.FeatureFlag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}

type TiersResponse struct {
	Tiers []TierResponse `json:"tiers"`
}

type ProgressResponse struct {
	TierKey   string `json:"tier_key"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Complete  bool   `json:"complete"`
}

func fromProgress(key string, p gate.Progress) ProgressResponse {
	return ProgressResponse{TierKey: key, Completed: p.Completed, Total: p.Total, Complete: p.Complete()}
}

type SnapshotResponse struct {
	UserID   string             `json:"user_id"`
	Active   TierResponse       `json:"active_tier"`
	Next     *TierResponse      `json:"next_tier,omitempty"`
	Progress []ProgressResponse `json:"progress"`
	Features []string           `json:"features"`
}

func fromSnapshot(userID string, snap gate.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		UserID:   userID,
		Active:   fromTier(snap.Active),
		Progress: make([]ProgressResponse, 0, len(snap.Tiers)),
		Features: featureStrings(snap.Features),
	}
	if snap.Next != nil {
		next := fromTier(*snap.Next)
		resp.Next = &next
	}
	for _, tp := range snap.Tiers {
		resp.Progress = append(resp.Progress, fromProgress(tp.Tier.Key, tp.Progress))
	}
	return resp
}

type EligibilityResponse struct {
	Requirement  string `json:"requirement"`
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	Tier         string `json:"tier"`
	BlockingTier string `json:"blocking_tier,omitempty"`
}

func fromDecision(k tier.RequirementKind, d gate.Decision) EligibilityResponse {
	resp := EligibilityResponse{
		Requirement: string(k),
		Allowed:     d.Allowed,
		Reason:      string(d.Reason),
		Tier:        d.Tier.Key,
	}
	if d.Blocking != nil {
		resp.BlockingTier = d.Blocking.Key
	}
	return resp
}

type FeatureResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}
