package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"tiergate/internal/providers"
	"tiergate/internal/providers/sandbox"
	"tiergate/internal/provisioning/service"
	"tiergate/internal/provisioning/store"
	tu "tiergate/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	identity *sandbox.Identity
	exchange *sandbox.Exchange
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.identity = sandbox.NewIdentity()
	s.exchange = sandbox.NewExchange(sandbox.WithBlockedCountries("KP"))
	svc, err := service.New(s.identity, s.exchange, store.NewInMemory())
	s.Require().NoError(err)

	r := chi.NewRouter()
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Register(r)
	h.RegisterAdmin(r)
	s.router = r
}

func body(email, country string) map[string]string {
	return map[string]string{
		"email":      email,
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"country":    country,
	}
}

func (s *HandlerSuite) signup(b map[string]string) *httptest.ResponseRecorder {
	return tu.DoRequest(s.router, tu.NewJSONRequest(s.T(), http.MethodPost, "/signup", b))
}

func (s *HandlerSuite) TestSignup() {
	s.Run("creates both accounts", func() {
		rr := s.signup(body("ada@example.com", "GB"))
		tu.AssertStatus(s.T(), rr, http.StatusCreated)
		resp := tu.UnmarshalResponse[SignupResponse](s.T(), rr)
		s.NotEmpty(resp.IdentityID)
		s.NotEmpty(resp.ExchangeAccountID)

		get := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/admin/provisioning/transactions/"+resp.TransactionID))
		tu.AssertStatusOK(s.T(), get)
		tu.AssertJSONContains(s.T(), get, "state", "completed")
	})

	s.Run("duplicate email is a conflict", func() {
		rr := s.signup(body("ada@example.com", "GB"))
		tu.AssertStatus(s.T(), rr, http.StatusConflict)
		resp := tu.UnmarshalResponse[SignupFailedResponse](s.T(), rr)
		s.Equal("duplicate_email", resp.Error)
		s.Equal("identity", resp.Step)
	})

	s.Run("compliance rejection rolls back and is forbidden", func() {
		rr := s.signup(body("kim@example.com", "KP"))
		tu.AssertStatus(s.T(), rr, http.StatusForbidden)
		resp := tu.UnmarshalResponse[SignupFailedResponse](s.T(), rr)
		s.Equal("rejected_by_compliance", resp.Error)
		s.Equal("exchange", resp.Step)
		s.Equal(1, s.identity.Count(), "only the first signup remains")
	})

	s.Run("exchange outage is unavailable", func() {
		s.exchange.Fail(sandbox.OpCreateSubAccount, providers.CategoryUnavailable, 1)
		rr := s.signup(body("grace@example.com", "US"))
		tu.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		tu.AssertJSONContains(s.T(), rr, "error", "provider_unavailable")
	})

	s.Run("validation happens before any provider call", func() {
		rr := s.signup(body("not-an-email", "GB"))
		tu.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestGetTransaction() {
	s.Run("malformed id", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/admin/provisioning/transactions/nope"))
		tu.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("unknown id", func() {
		rr := tu.DoRequest(s.router, tu.NewRequest(s.T(), http.MethodGet, "/admin/provisioning/transactions/6f1c1a0e-6d8c-4c53-9d1f-9b5a3f7b2c11"))
		tu.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}
