package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"tiergate/internal/limits/metrics"
	"tiergate/internal/limits/models"
	"tiergate/internal/limits/store"
	"tiergate/internal/tier"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/audit/publisher"
	auditmemory "tiergate/pkg/platform/audit/store/memory"
	"tiergate/pkg/requestcontext"
)

// fixedTiers assigns tiers per user; unknown users are unverified.
type fixedTiers struct {
	mu       sync.Mutex
	registry *tier.Registry
	byUser   map[id.UserID]string
	err      error
}

func (f *fixedTiers) ActiveTier(_ context.Context, userID id.UserID) (tier.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tier.Tier{}, f.err
	}
	key, ok := f.byUser[userID]
	if !ok {
		return f.registry.Unverified(), nil
	}
	return f.registry.TierByKey(key)
}

func (f *fixedTiers) set(userID id.UserID, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[userID] = key
}

type LimitsSuite struct {
	suite.Suite
	tiers   *fixedTiers
	audits  *auditmemory.InMemoryStore
	metrics *metrics.Metrics
	service *Service
	now     time.Time
}

func TestLimitsSuite(t *testing.T) {
	suite.Run(t, new(LimitsSuite))
}

func (s *LimitsSuite) SetupTest() {
	registry, err := tier.NewRegistry(tier.DefaultCatalog())
	s.Require().NoError(err)
	s.tiers = &fixedTiers{registry: registry, byUser: make(map[id.UserID]string)}
	s.audits = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service, err = New(store.NewInMemory(), s.tiers,
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.now = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
}

func (s *LimitsSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LimitsSuite) authorize(ctx context.Context, user id.UserID, op models.Operation, amount string) models.Decision {
	d, err := s.service.Authorize(ctx, user, op, decimal.RequireFromString(amount))
	s.Require().NoError(err)
	return d
}

func (s *LimitsSuite) TestDailyBoundary() {
	s.tiers.set("bob", "basic")
	ctx := s.at(s.now)

	s.True(s.authorize(ctx, "bob", models.OperationTrade, "90").Authorized)

	d := s.authorize(ctx, "bob", models.OperationTrade, "10.01")
	s.False(d.Authorized)
	s.Equal(models.ReasonLimitExceeded, d.Reason)
	s.Equal(models.LimitDaily, d.LimitKind)
	s.True(d.RemainingDaily.Equal(decimal.NewFromInt(10)))

	d = s.authorize(ctx, "bob", models.OperationTrade, "10")
	s.True(d.Authorized)
	s.True(d.RemainingDaily.IsZero())

	denied := s.audits.ListByAction(ctx, audit.EventLimitDenied)
	s.Require().Len(denied, 1)
	s.Equal("daily", denied[0].Details["limit_kind"])
	s.Equal(audit.CategoryCompliance, denied[0].Category)
}

func (s *LimitsSuite) TestWindowReset() {
	s.tiers.set("carol", "basic")
	s.True(s.authorize(s.at(s.now), "carol", models.OperationTrade, "100").Authorized)
	s.False(s.authorize(s.at(s.now.Add(time.Hour)), "carol", models.OperationTrade, "1").Authorized)

	s.Run("next day starts from zero", func() {
		s.True(s.authorize(s.at(s.now.AddDate(0, 0, 1)), "carol", models.OperationTrade, "100").Authorized)
	})

	s.Run("many elapsed days still reset once", func() {
		s.True(s.authorize(s.at(s.now.AddDate(0, 0, 40)), "carol", models.OperationTrade, "100").Authorized)
	})
}

func (s *LimitsSuite) TestWithdrawal() {
	s.Run("basic tier has no withdrawal allowance", func() {
		s.tiers.set("dave", "basic")
		d := s.authorize(s.at(s.now), "dave", models.OperationWithdrawal, "1")
		s.False(d.Authorized)
		s.Equal(models.LimitWithdrawal, d.LimitKind)
	})

	s.Run("per-operation ceiling", func() {
		s.tiers.set("erin", "starter")
		d := s.authorize(s.at(s.now), "erin", models.OperationWithdrawal, "500.01")
		s.False(d.Authorized)
		s.Equal(models.LimitWithdrawal, d.LimitKind)
		s.True(s.authorize(s.at(s.now), "erin", models.OperationWithdrawal, "500").Authorized)
	})

	s.Run("monthly window spans days", func() {
		s.tiers.set("fay", "starter")
		// 20 days of 500 reaches the 10000 monthly limit with daily headroom left.
		start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
		for day := 0; day < 20; day++ {
			s.Require().True(s.authorize(s.at(start.AddDate(0, 0, day)), "fay", models.OperationWithdrawal, "500").Authorized)
		}
		d := s.authorize(s.at(start.AddDate(0, 0, 20)), "fay", models.OperationWithdrawal, "1")
		s.False(d.Authorized)
		s.Equal(models.LimitMonthly, d.LimitKind)
		s.Require().NotNil(d.RemainingMonthly)
		s.True(d.RemainingMonthly.IsZero())

		s.True(s.authorize(s.at(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)), "fay", models.OperationWithdrawal, "1").Authorized)
	})

	s.Run("withdrawals share the daily window with trades", func() {
		s.tiers.set("gus", "starter")
		ctx := s.at(s.now)
		s.True(s.authorize(ctx, "gus", models.OperationTrade, "800").Authorized)
		d := s.authorize(ctx, "gus", models.OperationWithdrawal, "300")
		s.False(d.Authorized)
		s.Equal(models.LimitDaily, d.LimitKind)
	})
}

func (s *LimitsSuite) TestTierUpgradeRaisesHeadroom() {
	s.tiers.set("kim", "basic")
	ctx := s.at(s.now)
	s.True(s.authorize(ctx, "kim", models.OperationTrade, "100").Authorized)
	s.False(s.authorize(ctx, "kim", models.OperationTrade, "1").Authorized)

	s.tiers.set("kim", "starter")
	d := s.authorize(ctx, "kim", models.OperationTrade, "1")
	s.True(d.Authorized)
	s.True(d.RemainingDaily.Equal(decimal.NewFromInt(899)), d.RemainingDaily.String())
	s.Equal("starter", d.TierKey)
}

func (s *LimitsSuite) TestUnverifiedAndInvalidInput() {
	s.Run("unverified tier is denied without touching usage", func() {
		d := s.authorize(s.at(s.now), "nobody", models.OperationTrade, "1")
		s.False(d.Authorized)
		s.Equal(models.ReasonTierUnverified, d.Reason)
		s.InDelta(1, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("trade", "denied", "tier_unverified")), 0)
	})

	s.Run("invalid amounts are errors, not denials", func() {
		s.tiers.set("hal", "basic")
		for _, amount := range []string{"0", "-5", "0.0000000000000000001"} {
			_, err := s.service.Authorize(s.at(s.now), "hal", models.OperationTrade, decimal.RequireFromString(amount))
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), amount)
		}
	})

	s.Run("unknown operation", func() {
		_, err := s.service.Authorize(s.at(s.now), "hal", "borrow", decimal.NewFromInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("tier resolution failure propagates", func() {
		s.tiers.err = dErrors.Wrap(errors.New("down"), dErrors.CodeUnavailable, "verification storage unavailable")
		defer func() { s.tiers.err = nil }()
		_, err := s.service.Authorize(s.at(s.now), "hal", models.OperationTrade, decimal.NewFromInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *LimitsSuite) TestConcurrentAuthorizationsNeverOverspend() {
	s.tiers.set("ivy", "basic")
	ctx := s.at(s.now)

	var (
		wg         sync.WaitGroup
		authorized atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.service.Authorize(ctx, "ivy", models.OperationTrade, decimal.NewFromInt(10))
			s.NoError(err)
			if d.Authorized {
				authorized.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), authorized.Load())
	usage, err := s.service.Usage(ctx, "ivy")
	s.Require().NoError(err)
	s.True(usage.Daily.Window.Consumed.Equal(decimal.NewFromInt(100)))
	s.True(usage.Daily.Remaining.IsZero())
}

func (s *LimitsSuite) TestStoreFailureIsUnavailable() {
	svc, err := New(failingStore{}, s.tiers, WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.tiers.set("jo", "basic")

	_, err = svc.Authorize(s.at(s.now), "jo", models.OperationTrade, decimal.NewFromInt(1))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.InDelta(1, testutil.ToFloat64(s.metrics.StoreErrors), 0)
}

type failingStore struct{}

func (failingStore) Load(context.Context, id.UserID, time.Time) (models.Windows, error) {
	return models.Windows{}, errors.New("connection refused")
}

func (failingStore) Update(context.Context, id.UserID, time.Time, func(*models.Windows) (bool, error)) error {
	return errors.New("connection refused")
}
