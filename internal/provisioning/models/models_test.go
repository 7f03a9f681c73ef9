package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"tiergate/internal/providers"
	dErrors "tiergate/pkg/domain-errors"
)

func TestReasonFor(t *testing.T) {
	tests := []struct {
		category providers.Category
		want     Reason
	}{
		{providers.CategoryDuplicateEmail, ReasonDuplicateEmail},
		{providers.CategoryInvalidInput, ReasonInvalidInput},
		{providers.CategoryRejectedByCompliance, ReasonRejectedByCompliance},
		{providers.CategoryTimeout, ReasonProviderUnavailable},
		{providers.CategoryUnavailable, ReasonProviderUnavailable},
		{providers.CategoryNotFound, ReasonProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := providers.NewError(tt.category, "identity", "raw provider text", nil)
			assert.Equal(t, tt.want, ReasonFor(err))
		})
	}
	assert.Equal(t, ReasonProviderUnavailable, ReasonFor(errors.New("boom")))
}

func TestSignupFailed_HidesProviderText(t *testing.T) {
	err := &SignupFailed{Step: StepExchange, Reason: ReasonFor(providers.NewError(providers.CategoryTimeout, "exchange", "upstream 504 from edge-7", nil))}
	assert.Equal(t, "signup failed at exchange step: provider_unavailable", err.Error())
}

func TestSignupRequest_Validate(t *testing.T) {
	valid := func() SignupRequest {
		return SignupRequest{
			Email:   "  Ada@Example.com ",
			Profile: providers.Profile{FirstName: " Ada ", LastName: "Lovelace", Country: "gb"},
		}
	}

	t.Run("normalizes and accepts", func(t *testing.T) {
		r := valid()
		r.Normalize()
		assert.NoError(t, r.Validate())
		assert.Equal(t, "ada@example.com", r.Email)
		assert.Equal(t, "Ada", r.Profile.FirstName)
		assert.Equal(t, "GB", r.Profile.Country)
	})

	tests := map[string]func(*SignupRequest){
		"missing email":     func(r *SignupRequest) { r.Email = "" },
		"malformed email":   func(r *SignupRequest) { r.Email = "ada at example" },
		"display name form": func(r *SignupRequest) { r.Email = "Ada <ada@example.com>" },
		"missing last name": func(r *SignupRequest) { r.Profile.LastName = " " },
		"bad country":       func(r *SignupRequest) { r.Profile.Country = "GBR" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			r.Normalize()
			err := r.Validate()
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateRolledBack.IsTerminal())
	assert.False(t, StateIdentityCreated.IsTerminal())
	assert.False(t, StateExchangePending.IsTerminal())
}
