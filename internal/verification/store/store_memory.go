package store

import (
	"context"
	"slices"
	"sync"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/sentinel"
)

type recordKey struct {
	user id.UserID
	req  tier.RequirementKind
}

// InMemoryStore keeps the ledger in process memory. Save is a
// compare-and-set under a single mutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]models.Record
	history map[id.UserID][]models.Transition
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[recordKey]models.Record),
		history: make(map[id.UserID][]models.Transition),
	}
}

func (s *InMemoryStore) Get(_ context.Context, userID id.UserID, k tier.RequirementKind) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{userID, k}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Record
	for k, rec := range s.records {
		if k.user == userID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		if a.Requirement < b.Requirement {
			return -1
		}
		if a.Requirement > b.Requirement {
			return 1
		}
		return 0
	})
	return out, nil
}

// Save writes next only if the stored record still matches prev (absent when
// prev is nil). A lost race returns sentinel.ErrConflict.
func (s *InMemoryStore) Save(_ context.Context, next models.Record, prev *models.Record, tr *models.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{next.UserID, next.Requirement}
	stored, exists := s.records[key]
	switch {
	case prev == nil && exists:
		return sentinel.ErrConflict
	case prev != nil && (!exists || stored.LastEventSeq != prev.LastEventSeq || stored.Status != prev.Status):
		return sentinel.ErrConflict
	}

	s.records[key] = next
	if tr != nil {
		s.history[next.UserID] = append(s.history[next.UserID], *tr)
	}
	return nil
}

func (s *InMemoryStore) History(_ context.Context, userID id.UserID) ([]models.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[userID]), nil
}
