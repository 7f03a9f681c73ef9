package store

import (
	"context"
	"sync"
	"time"

	"tiergate/internal/limits/models"
	id "tiergate/pkg/domain"
)

type userWindows struct {
	mu      sync.Mutex
	windows *models.Windows
}

// InMemoryStore serializes each user's check-and-increment behind a per-user
// mutex. Different users never contend.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[id.UserID]*userWindows
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{users: make(map[id.UserID]*userWindows)}
}

func (s *InMemoryStore) entry(userID id.UserID) *userWindows {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &userWindows{}
		s.users[userID] = e
	}
	return e
}

func (s *InMemoryStore) Load(_ context.Context, userID id.UserID, now time.Time) (models.Windows, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.windows == nil {
		return models.NewWindows(userID, now), nil
	}
	return e.windows.Rolled(now), nil
}

// Update hands fn the user's rolled windows and stores fn's changes when it
// asks to commit.
func (s *InMemoryStore) Update(ctx context.Context, userID id.UserID, now time.Time, fn func(w *models.Windows) (bool, error)) error {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	current := models.NewWindows(userID, now)
	if e.windows != nil {
		current = e.windows.Rolled(now)
	}
	commit, err := fn(&current)
	if err != nil || !commit {
		return err
	}
	e.windows = &current
	return nil
}
