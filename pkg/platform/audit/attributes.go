package audit

import (
	"tiergate/pkg/attrs"
	id "tiergate/pkg/domain"
)

// reserved attribute keys map onto Event fields; everything else lands in
// Details.
var reserved = []string{"user_id", "subject", "actor_id", "reason", "decision", "request_id", "ip", "event", "log_type"}

// FromAttributes builds an Event from a slog-style key/value list so services
// can log and audit with one set of attributes.
func FromAttributes(action string, attributes []any) Event {
	return Event{
		Category:  AuditEvent(action).Category(),
		UserID:    id.UserID(attrs.ExtractString(attributes, "user_id")),
		Subject:   attrs.ExtractString(attributes, "subject"),
		Action:    action,
		Decision:  attrs.ExtractString(attributes, "decision"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: attrs.ExtractString(attributes, "request_id"),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		IP:        attrs.ExtractString(attributes, "ip"),
		Details:   attrs.StringMap(attributes, reserved...),
	}
}
