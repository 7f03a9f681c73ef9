package tier

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML layout. Amounts are strings so no value
// passes through a float.
type catalogFile struct {
	Tiers []catalogTier `yaml:"tiers"`
}

type catalogTier struct {
	Key             string   `yaml:"key"`
	Ordinal         int      `yaml:"ordinal"`
	Name            string   `yaml:"name"`
	RequiredProofs  []string `yaml:"required_proofs"`
	DailyLimit      string   `yaml:"daily_limit"`
	MonthlyLimit    string   `yaml:"monthly_limit"`
	WithdrawalLimit string   `yaml:"withdrawal_limit"`
	Features        []string `yaml:"features"`
}

// LoadRegistry builds the registry from the YAML file at path, or from the
// built-in catalog when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultCatalog())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}
	tiers, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(tiers)
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected so a typo
// cannot silently drop a limit.
func ParseCatalog(data []byte) ([]Tier, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode tier catalog: %w", err)
	}

	tiers := make([]Tier, 0, len(file.Tiers))
	for _, ct := range file.Tiers {
		t := Tier{Key: ct.Key, Ordinal: ct.Ordinal, Name: ct.Name}
		for _, p := range ct.RequiredProofs {
			k, err := ParseRequirementKind(p)
			if err != nil {
				return nil, fmt.Errorf("tier %q: %w", ct.Key, err)
			}
			t.RequiredProofs = append(t.RequiredProofs, k)
		}
		for _, f := range ct.Features {
			flag, err := ParseFeatureFlag(f)
			if err != nil {
				return nil, fmt.Errorf("tier %q: %w", ct.Key, err)
			}
			t.UnlockedFeatures = append(t.UnlockedFeatures, flag)
		}
		var err error
		if t.DailyLimit, err = parseAmount(ct.Key, "daily_limit", ct.DailyLimit); err != nil {
			return nil, err
		}
		if t.MonthlyLimit, err = parseAmount(ct.Key, "monthly_limit", ct.MonthlyLimit); err != nil {
			return nil, err
		}
		if t.WithdrawalLimit, err = parseAmount(ct.Key, "withdrawal_limit", ct.WithdrawalLimit); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func parseAmount(tierKey, field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tier %q: invalid %s %q", tierKey, field, raw)
	}
	return d, nil
}

// DefaultCatalog is the built-in four-tier progression.
func DefaultCatalog() []Tier {
	return []Tier{
		{
			Key:             "basic",
			Ordinal:         1,
			Name:            "Basic",
			RequiredProofs:  []RequirementKind{RequirementEmailConfirmed, RequirementPhoneConfirmed},
			DailyLimit:      decimal.NewFromInt(100),
			MonthlyLimit:    decimal.NewFromInt(1_000),
			WithdrawalLimit: decimal.Zero,
			UnlockedFeatures: []FeatureFlag{
				FeatureViewMarkets, FeatureDepositCrypto, FeatureTradeSpot,
			},
		},
		{
			Key:             "starter",
			Ordinal:         2,
			Name:            "Starter",
			RequiredProofs:  []RequirementKind{RequirementNationalIDNumberVerified, RequirementBiometricLivenessVerified},
			DailyLimit:      decimal.NewFromInt(1_000),
			MonthlyLimit:    decimal.NewFromInt(10_000),
			WithdrawalLimit: decimal.NewFromInt(500),
			UnlockedFeatures: []FeatureFlag{
				FeatureViewMarkets, FeatureDepositCrypto, FeatureTradeSpot,
				FeatureWithdrawCrypto, FeatureP2PTransfer,
			},
		},
		{
			Key:             "verified",
			Ordinal:         3,
			Name:            "Verified",
			RequiredProofs:  []RequirementKind{RequirementFinancialIdentityNumberVerified, RequirementGovernmentIDDocumentVerified},
			DailyLimit:      decimal.NewFromInt(10_000),
			MonthlyLimit:    decimal.NewFromInt(100_000),
			WithdrawalLimit: decimal.NewFromInt(5_000),
			UnlockedFeatures: []FeatureFlag{
				FeatureViewMarkets, FeatureDepositCrypto, FeatureTradeSpot,
				FeatureWithdrawCrypto, FeatureP2PTransfer, FeatureWithdrawFiat,
			},
		},
		{
			Key:             "premium",
			Ordinal:         4,
			Name:            "Premium",
			RequiredProofs:  []RequirementKind{RequirementPassportVerified},
			DailyLimit:      decimal.NewFromInt(100_000),
			MonthlyLimit:    decimal.NewFromInt(1_000_000),
			WithdrawalLimit: decimal.NewFromInt(50_000),
			UnlockedFeatures: []FeatureFlag{
				FeatureViewMarkets, FeatureDepositCrypto, FeatureTradeSpot,
				FeatureWithdrawCrypto, FeatureP2PTransfer, FeatureWithdrawFiat,
				FeatureCardIssuance,
			},
		},
	}
}
