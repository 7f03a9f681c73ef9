package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	id "tiergate/pkg/domain"
)

func TestFromAttributes(t *testing.T) {
	e := FromAttributes(string(EventTierChanged), []any{
		"user_id", id.UserID("u1"),
		"old_tier", "basic",
		"new_tier", "starter",
		"request_id", "req-9",
		"event", "tier_changed",
		"log_type", "audit",
	})

	assert.Equal(t, id.UserID("u1"), e.UserID)
	assert.Equal(t, CategoryCompliance, e.Category)
	assert.Equal(t, "req-9", e.RequestID)
	assert.Equal(t, map[string]string{"old_tier": "basic", "new_tier": "starter"}, e.Details)
}

func TestCategory_UnknownDefaultsToOperations(t *testing.T) {
	assert.Equal(t, CategoryOperations, AuditEvent("something_else").Category())
	assert.Equal(t, CategorySecurity, EventCompensationFailed.Category())
}
