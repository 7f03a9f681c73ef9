package handler

import (
	"strings"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
)

// KYCCallbackRequest is the body of POST /v1/webhooks/kyc.
type KYCCallbackRequest struct {
	UserID      string `json:"user_id"`
	Requirement string `json:"requirement"`
	Status      string `json:"status"`
	EvidenceRef string `json:"evidence_ref"`
	EventSeq    int64  `json:"event_seq"`

	update models.Update
}

func (r *KYCCallbackRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	k, err := tier.ParseRequirementKind(strings.TrimSpace(r.Requirement))
	if err != nil {
		return err
	}
	// Providers never report "unsatisfied"; it is the implicit initial state.
	status, err := models.ParseStatus(strings.TrimSpace(r.Status))
	if err != nil || status == models.StatusUnsatisfied {
		return dErrors.New(dErrors.CodeValidation, "status must be pending, satisfied or rejected")
	}
	r.update = models.Update{
		UserID:      userID,
		Requirement: k,
		Status:      status,
		EvidenceRef: strings.TrimSpace(r.EvidenceRef),
		EventSeq:    r.EventSeq,
	}
	return r.update.Validate()
}

// Update returns the parsed ledger update. Valid only after Validate.
func (r *KYCCallbackRequest) Update() models.Update { return r.update }

// AdminRejectRequest is the body of the admin reject endpoint.
type AdminRejectRequest struct {
	Reason string `json:"reason"`
}

func (r *AdminRejectRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}
