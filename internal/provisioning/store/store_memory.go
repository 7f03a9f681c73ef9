package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"tiergate/internal/provisioning/models"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/sentinel"
)

// InMemoryStore keeps provisioning transactions in process memory.
type InMemoryStore struct {
	mu   sync.RWMutex
	txns map[id.TransactionID]models.Transaction
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{txns: make(map[id.TransactionID]models.Transaction)}
}

func (s *InMemoryStore) Create(_ context.Context, txn models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[txn.ID]; ok {
		return sentinel.ErrConflict
	}
	s.txns[txn.ID] = clone(txn)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, txnID id.TransactionID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.txns[txnID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(txn)
	return &out, nil
}

func (s *InMemoryStore) Transition(_ context.Context, from models.State, next models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.txns[next.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cur.State != from {
		return sentinel.ErrConflict
	}
	s.txns[next.ID] = clone(next)
	return nil
}

func (s *InMemoryStore) ListPending(_ context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, txn := range s.txns {
		if txn.State.IsTerminal() || !txn.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, clone(txn))
	}
	slices.SortFunc(out, func(a, b models.Transaction) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PurgeTerminal(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for txnID, txn := range s.txns {
		if txn.State.IsTerminal() && txn.UpdatedAt.Before(olderThan) {
			delete(s.txns, txnID)
			n++
		}
	}
	return n, nil
}

func clone(txn models.Transaction) models.Transaction {
	if txn.ExchangeAccountID != nil {
		v := *txn.ExchangeAccountID
		txn.ExchangeAccountID = &v
	}
	return txn
}
