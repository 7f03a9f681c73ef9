package audit

import (
	"time"

	id "tiergate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance:
	// verification outcomes, tier changes, administrative overrides.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to fraud and forensics:
	// forged callbacks, orphaned provider accounts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	// Subject is the entity acted upon when it is not the user itself,
	// e.g. a requirement kind or a provisioning transaction id.
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// ActorID is the operator who performed the action, empty for provider
	// callbacks and user-initiated requests.
	ActorID string
	IP      string
	// Details carries small event-specific values (old/new tier, limit kind).
	Details map[string]string
}

type AuditEvent string

const (
	// Verification ledger
	EventRequirementRecorded        AuditEvent = "requirement_recorded"
	EventRequirementRejectedByAdmin AuditEvent = "requirement_rejected_by_admin"
	EventTierChanged                AuditEvent = "tier_changed"
	EventWebhookSignatureRejected   AuditEvent = "webhook_signature_rejected"

	// Limits
	EventLimitDenied     AuditEvent = "limit_denied"
	EventLimitAuthorized AuditEvent = "limit_authorized"

	// Provisioning
	EventAccountProvisioned AuditEvent = "account_provisioned"
	EventAccountRolledBack  AuditEvent = "account_rolled_back"
	EventCompensationFailed AuditEvent = "compensation_failed"
	EventSignupFailed       AuditEvent = "signup_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRequirementRecorded:        CategoryCompliance,
	EventRequirementRejectedByAdmin: CategoryCompliance,
	EventTierChanged:                CategoryCompliance,
	EventLimitDenied:                CategoryCompliance,

	EventWebhookSignatureRejected: CategorySecurity,
	EventAccountProvisioned:       CategorySecurity,
	EventAccountRolledBack:        CategorySecurity,
	EventCompensationFailed:       CategorySecurity,

	EventLimitAuthorized: CategoryOperations,
	EventSignupFailed:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
