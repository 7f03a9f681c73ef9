package tier

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "tiergate/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	r, err := NewRegistry(DefaultCatalog())
	s.Require().NoError(err)
	s.registry = r
}

func (s *RegistrySuite) TestTiersInOrder() {
	s.Run("ascending ordinal", func() {
		tiers := s.registry.TiersInOrder()
		s.Require().Len(tiers, 4)
		for i := 1; i < len(tiers); i++ {
			s.Less(tiers[i-1].Ordinal, tiers[i].Ordinal)
		}
	})

	s.Run("callers cannot mutate the catalog", func() {
		tiers := s.registry.TiersInOrder()
		tiers[0].RequiredProofs[0] = RequirementPassportVerified
		tiers[0].DailyLimit = decimal.NewFromInt(1)

		again := s.registry.TiersInOrder()
		s.Equal(RequirementEmailConfirmed, again[0].RequiredProofs[0])
		s.True(again[0].DailyLimit.Equal(decimal.NewFromInt(100)))
	})
}

func (s *RegistrySuite) TestTierByKey() {
	s.Run("known key", func() {
		t, err := s.registry.TierByKey("starter")
		s.Require().NoError(err)
		s.Equal(2, t.Ordinal)
	})

	s.Run("missing key is not_found", func() {
		_, err := s.registry.TierByKey("platinum")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *RegistrySuite) TestNavigation() {
	s.Run("tier of requirement", func() {
		t, ok := s.registry.TierOf(RequirementBiometricLivenessVerified)
		s.Require().True(ok)
		s.Equal("starter", t.Key)
	})

	s.Run("predecessor", func() {
		starter, _ := s.registry.TierByKey("starter")
		prev, ok := s.registry.Predecessor(starter)
		s.Require().True(ok)
		s.Equal("basic", prev.Key)

		basic, _ := s.registry.TierByKey("basic")
		_, ok = s.registry.Predecessor(basic)
		s.False(ok)
	})

	s.Run("next from sentinel is the first tier", func() {
		next, ok := s.registry.Next(s.registry.Unverified())
		s.Require().True(ok)
		s.Equal("basic", next.Key)

		premium, _ := s.registry.TierByKey("premium")
		_, ok = s.registry.Next(premium)
		s.False(ok)
	})

	s.Run("sentinel has zero limits and no features", func() {
		u := s.registry.Unverified()
		s.True(u.IsUnverified())
		s.True(u.DailyLimit.IsZero())
		s.True(u.MonthlyLimit.IsZero())
		s.True(u.WithdrawalLimit.IsZero())
		s.Empty(u.UnlockedFeatures)
	})
}

func TestNewRegistry_RejectsInvalidCatalogs(t *testing.T) {
	valid := func() Tier {
		return Tier{
			Key: "basic", Ordinal: 1,
			RequiredProofs: []RequirementKind{RequirementEmailConfirmed},
			DailyLimit:     decimal.NewFromInt(10),
			MonthlyLimit:   decimal.NewFromInt(100),
		}
	}

	tests := []struct {
		name   string
		tiers  func() []Tier
		reason string
	}{
		{"empty", func() []Tier { return nil }, "empty"},
		{"duplicate key", func() []Tier {
			b := valid()
			b.Ordinal = 2
			b.RequiredProofs = []RequirementKind{RequirementPhoneConfirmed}
			return []Tier{valid(), b}
		}, "duplicate tier key"},
		{"duplicate ordinal", func() []Tier {
			b := valid()
			b.Key = "starter"
			b.RequiredProofs = []RequirementKind{RequirementPhoneConfirmed}
			return []Tier{valid(), b}
		}, "share ordinal"},
		{"zero ordinal", func() []Tier {
			a := valid()
			a.Ordinal = 0
			return []Tier{a}
		}, "ordinal must be positive"},
		{"requirement in two tiers", func() []Tier {
			b := valid()
			b.Key, b.Ordinal = "starter", 2
			return []Tier{valid(), b}
		}, "listed by both"},
		{"unknown requirement", func() []Tier {
			a := valid()
			a.RequiredProofs = []RequirementKind{"dna_sample"}
			return []Tier{a}
		}, "unknown requirement"},
		{"unknown feature", func() []Tier {
			a := valid()
			a.UnlockedFeatures = []FeatureFlag{"margin_trading"}
			return []Tier{a}
		}, "unknown feature"},
		{"negative limit", func() []Tier {
			a := valid()
			a.WithdrawalLimit = decimal.NewFromInt(-1)
			return []Tier{a}
		}, "withdrawal_limit is negative"},
		{"monthly below daily", func() []Tier {
			a := valid()
			a.MonthlyLimit = decimal.NewFromInt(5)
			return []Tier{a}
		}, "monthly_limit below daily_limit"},
		{"reserved key", func() []Tier {
			a := valid()
			a.Key = UnverifiedKey
			return []Tier{a}
		}, "reserved"},
		{"no proofs", func() []Tier {
			a := valid()
			a.RequiredProofs = nil
			return []Tier{a}
		}, "no required proofs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.tiers())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestLoadRegistry_FromYAML(t *testing.T) {
	r, err := LoadRegistry(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)

	tiers := r.TiersInOrder()
	require.Len(t, tiers, 2)
	assert.Equal(t, "basic", tiers[0].Key, "ordinal decides order, not file position")
	assert.True(t, tiers[0].WithdrawalLimit.IsZero())
	assert.True(t, tiers[1].WithdrawalLimit.Equal(decimal.RequireFromString("250.50")))
	assert.True(t, tiers[1].Unlocks(FeatureWithdrawCrypto))
}

func TestLoadRegistry_DefaultWhenPathEmpty(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)
	basic, err := r.TierByKey("basic")
	require.NoError(t, err)
	assert.True(t, basic.DailyLimit.Equal(decimal.NewFromInt(100)))
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "tiers:\n  - key: basic\n    ordinal: 1\n    dayly_limit: \"10\"\n"},
		{"bad amount", "tiers:\n  - key: basic\n    ordinal: 1\n    daily_limit: \"ten\"\n"},
		{"unknown proof", "tiers:\n  - key: basic\n    ordinal: 1\n    required_proofs: [selfie]\n"},
		{"unknown feature", "tiers:\n  - key: basic\n    ordinal: 1\n    features: [lending]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseRequirementKind(t *testing.T) {
	k, err := ParseRequirementKind("passport_verified")
	require.NoError(t, err)
	assert.Equal(t, RequirementPassportVerified, k)

	_, err = ParseRequirementKind("Passport_Verified")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestHighest_GapFreeFrontier(t *testing.T) {
	r, err := NewRegistry(DefaultCatalog())
	require.NoError(t, err)

	have := func(ks ...RequirementKind) func(RequirementKind) bool {
		set := map[RequirementKind]bool{}
		for _, k := range ks {
			set[k] = true
		}
		return func(k RequirementKind) bool { return set[k] }
	}

	tests := []struct {
		name string
		sat  []RequirementKind
		want string
	}{
		{"nothing satisfied", nil, UnverifiedKey},
		{"first tier partial", []RequirementKind{RequirementEmailConfirmed}, UnverifiedKey},
		{"basic complete, starter partial",
			[]RequirementKind{RequirementEmailConfirmed, RequirementPhoneConfirmed, RequirementNationalIDNumberVerified}, "basic"},
		{"higher tier complete over a gap",
			[]RequirementKind{RequirementEmailConfirmed, RequirementPhoneConfirmed, RequirementPassportVerified}, "basic"},
		{"skipped first tier",
			[]RequirementKind{RequirementNationalIDNumberVerified, RequirementBiometricLivenessVerified}, UnverifiedKey},
		{"everything", requirementKinds, "premium"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Highest(have(tt.sat...)).Key)
		})
	}
}
