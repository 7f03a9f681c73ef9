//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"tiergate/internal/limits/models"
	"tiergate/internal/limits/store"
	"tiergate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "usage_windows"))
}

// TestConcurrentUpdates verifies the advisory lock serializes one user's
// check-and-increment: the sum of committed amounts never exceeds the limit.
func (s *PostgresStoreSuite) TestConcurrentUpdates() {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	limit := decimal.NewFromInt(100)
	step := decimal.NewFromInt(10)

	var (
		wg        sync.WaitGroup
		committed atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Update(ctx, "pg-user", now, func(w *models.Windows) (bool, error) {
				if w.Daily.Consumed.Add(step).GreaterThan(limit) {
					return false, nil
				}
				w.Daily.Consumed = w.Daily.Consumed.Add(step)
				committed.Add(1)
				return true, nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int32(10), committed.Load())
	w, err := s.store.Load(ctx, "pg-user", now)
	s.Require().NoError(err)
	s.True(w.Daily.Consumed.Equal(limit), w.Daily.Consumed.String())
}

func (s *PostgresStoreSuite) TestPastPeriodsAreKeptButIgnored() {
	ctx := context.Background()
	yesterday := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Update(ctx, "hist", yesterday, func(w *models.Windows) (bool, error) {
		w.Daily.Consumed = decimal.RequireFromString("42.123456789012345678")
		w.Monthly.Consumed = w.Daily.Consumed
		return true, nil
	}))

	w, err := s.store.Load(ctx, "hist", yesterday.AddDate(0, 0, 1))
	s.Require().NoError(err)
	s.True(w.Daily.Consumed.IsZero())
	s.True(w.Monthly.Consumed.Equal(decimal.RequireFromString("42.123456789012345678")))

	var rows int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT count(*) FROM usage_windows WHERE user_id = 'hist'`).Scan(&rows))
	s.Equal(2, rows)
}
