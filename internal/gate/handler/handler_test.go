package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"tiergate/internal/gate"
	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	"tiergate/internal/verification/service"
	"tiergate/internal/verification/store"
	id "tiergate/pkg/domain"
	tu "tiergate/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ledger *service.Service
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	registry, err := tier.NewRegistry(tier.DefaultCatalog())
	s.Require().NoError(err)
	s.ledger, err = service.New(store.NewInMemory(), registry)
	s.Require().NoError(err)
	evaluator, err := gate.New(registry, s.ledger)
	s.Require().NoError(err)

	r := chi.NewRouter()
	New(evaluator, registry, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
}

func (s *HandlerSuite) satisfy(user string, kinds ...tier.RequirementKind) {
	for _, k := range kinds {
		_, err := s.ledger.RecordRequirement(context.Background(), models.Update{
			UserID: id.UserID(user), Requirement: k, Status: models.StatusSatisfied, EventSeq: 1,
		})
		s.Require().NoError(err)
	}
}

func (s *HandlerSuite) TestListTiers() {
	rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/tiers"))
	tu.AssertStatusOK(s.T(), rr)
	resp := tu.UnmarshalResponse[TiersResponse](s.T(), rr)
	s.Require().Len(resp.Tiers, 4)
	s.Equal("basic", resp.Tiers[0].Key)
	s.Equal("100", resp.Tiers[0].DailyLimit)
}

func (s *HandlerSuite) TestSnapshot() {
	s.satisfy("alice", tier.RequirementEmailConfirmed, tier.RequirementPhoneConfirmed)

	rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/alice/tier"))
	tu.AssertStatusOK(s.T(), rr)
	resp := tu.UnmarshalResponse[SnapshotResponse](s.T(), rr)
	s.Equal("basic", resp.Active.Key)
	s.Require().NotNil(resp.Next)
	s.Equal("starter", resp.Next.Key)
	s.True(resp.Progress[0].Complete)
}

func (s *HandlerSuite) TestProgress() {
	s.Run("known tier", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/alice/tiers/starter/progress"))
		tu.AssertStatusOK(s.T(), rr)
		resp := tu.UnmarshalResponse[ProgressResponse](s.T(), rr)
		s.Equal(2, resp.Total)
	})

	s.Run("unknown tier", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/alice/tiers/gold/progress"))
		tu.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestEligibility() {
	rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/alice/requirements/passport_verified/eligibility"))
	tu.AssertStatusOK(s.T(), rr)
	resp := tu.UnmarshalResponse[EligibilityResponse](s.T(), rr)
	s.False(resp.Allowed)
	s.Equal("predecessor_incomplete", resp.Reason)
	s.Equal("premium", resp.Tier)
	s.Equal("basic", resp.BlockingTier)
}

func (s *HandlerSuite) TestFeature() {
	s.Run("locked until the tier that unlocks it", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/bob/features/withdraw_crypto"))
		tu.AssertStatusOK(s.T(), rr)
		resp := tu.UnmarshalResponse[FeatureResponse](s.T(), rr)
		s.Equal("withdraw_crypto", resp.Feature)
		s.False(resp.Enabled)

		s.satisfy("bob", tier.RequirementEmailConfirmed, tier.RequirementPhoneConfirmed,
			tier.RequirementNationalIDNumberVerified, tier.RequirementBiometricLivenessVerified)
		rr = tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/bob/features/withdraw_crypto"))
		tu.AssertStatusOK(s.T(), rr)
		s.True(tu.UnmarshalResponse[FeatureResponse](s.T(), rr).Enabled)
	})

	s.Run("unknown feature", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/users/bob/features/margin"))
		tu.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}
