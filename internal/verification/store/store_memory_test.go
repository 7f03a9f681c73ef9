package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	"tiergate/pkg/platform/sentinel"
)

func pending(seq int64) models.Record {
	return models.Record{
		UserID:       "u-1",
		Requirement:  tier.RequirementEmailConfirmed,
		Status:       models.StatusPending,
		LastEventSeq: seq,
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInMemoryStore_CompareAndSet(t *testing.T) {
	ctx := context.Background()

	t.Run("insert when absent, conflict when present", func(t *testing.T) {
		s := NewInMemory()
		require.NoError(t, s.Save(ctx, pending(1), nil, nil))
		assert.ErrorIs(t, s.Save(ctx, pending(2), nil, nil), sentinel.ErrConflict)
	})

	t.Run("update requires matching prev", func(t *testing.T) {
		s := NewInMemory()
		first := pending(1)
		require.NoError(t, s.Save(ctx, first, nil, nil))

		stale := pending(7)
		assert.ErrorIs(t, s.Save(ctx, pending(3), &stale, nil), sentinel.ErrConflict)
		require.NoError(t, s.Save(ctx, pending(3), &first, nil))

		got, err := s.Get(ctx, "u-1", tier.RequirementEmailConfirmed)
		require.NoError(t, err)
		assert.EqualValues(t, 3, got.LastEventSeq)
	})

	t.Run("update of missing record conflicts", func(t *testing.T) {
		s := NewInMemory()
		prev := pending(1)
		assert.ErrorIs(t, s.Save(ctx, pending(2), &prev, nil), sentinel.ErrConflict)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := NewInMemory().Get(ctx, "nobody", tier.RequirementEmailConfirmed)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("history only grows on transitions", func(t *testing.T) {
		s := NewInMemory()
		tr := &models.Transition{UserID: "u-1", Requirement: tier.RequirementEmailConfirmed, From: models.StatusUnsatisfied, To: models.StatusPending}
		require.NoError(t, s.Save(ctx, pending(1), nil, tr))
		prev := pending(1)
		require.NoError(t, s.Save(ctx, pending(2), &prev, nil))

		history, err := s.History(ctx, "u-1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestInMemoryStore_ListByUserIsSorted(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	for _, k := range []tier.RequirementKind{tier.RequirementPhoneConfirmed, tier.RequirementEmailConfirmed} {
		rec := pending(1)
		rec.Requirement = k
		require.NoError(t, s.Save(ctx, rec, nil, nil))
	}
	other := pending(1)
	other.UserID = "u-2"
	require.NoError(t, s.Save(ctx, other, nil, nil))

	recs, err := s.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, tier.RequirementEmailConfirmed, recs[0].Requirement)
	assert.Equal(t, tier.RequirementPhoneConfirmed, recs[1].Requirement)
}
