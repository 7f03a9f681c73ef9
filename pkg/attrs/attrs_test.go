package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type named string

func (n named) String() string { return string(n) }

func TestExtractString(t *testing.T) {
	attrs := []any{"user_id", named("u1"), "count", 3, "reason", "limit_exceeded", "dangling"}

	assert.Equal(t, "u1", ExtractString(attrs, "user_id"))
	assert.Equal(t, "limit_exceeded", ExtractString(attrs, "reason"))
	assert.Empty(t, ExtractString(attrs, "count"))
	assert.Empty(t, ExtractString(attrs, "dangling"))
	assert.Empty(t, ExtractString(attrs, "missing"))
}

func TestStringMap(t *testing.T) {
	attrs := []any{"user_id", "u1", "old_tier", "basic", "attempt", 2}
	assert.Equal(t, map[string]string{"old_tier": "basic", "attempt": "2"}, StringMap(attrs, "user_id"))
	assert.Nil(t, StringMap([]any{"user_id", "u1"}, "user_id"))
}
