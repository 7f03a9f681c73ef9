package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tiergate/pkg/domain-errors"
)

// TestParseUserID_Invariants validates the parsing invariant:
// "user ids are non-empty, bounded and use a restricted alphabet"
func TestParseUserID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts provider issued ids", func(t *testing.T) {
		for _, raw := range []string{"u1", "idp:4f2a-99", uuid.NewString(), "acct_01.HX"} {
			id, err := ParseUserID(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, UserID(raw), id)
		}
	})
}

// TestParseUserID_SecurityInvariants validates that attack vectors are
// rejected at API entry points.
func TestParseUserID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE users;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "u1\x00admin", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "u​1", true},
		{"Whitespace only", "   ", true},
		{"Embedded space", "u 1", true},
		{"Max length", strings.Repeat("a", 128), false},
		{"Simple", "u1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUserID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseTransactionID(t *testing.T) {
	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTransactionID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTransactionID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("round trips generated ids", func(t *testing.T) {
		id := NewTransactionID()
		parsed, err := ParseTransactionID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
		assert.False(t, parsed.IsNil())
	})
}
