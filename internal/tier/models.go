package tier

import (
	"slices"

	"github.com/shopspring/decimal"

	dErrors "tiergate/pkg/domain-errors"
)

// RequirementKind is a single, non-composite proof of identity.
type RequirementKind string

const (
	RequirementEmailConfirmed                  RequirementKind = "email_confirmed"
	RequirementPhoneConfirmed                  RequirementKind = "phone_confirmed"
	RequirementNationalIDNumberVerified        RequirementKind = "national_id_number_verified"
	RequirementBiometricLivenessVerified       RequirementKind = "biometric_liveness_verified"
	RequirementFinancialIdentityNumberVerified RequirementKind = "financial_identity_number_verified"
	RequirementGovernmentIDDocumentVerified    RequirementKind = "government_id_document_verified"
	RequirementPassportVerified                RequirementKind = "passport_verified"
)

var requirementKinds = []RequirementKind{
	RequirementEmailConfirmed,
	RequirementPhoneConfirmed,
	RequirementNationalIDNumberVerified,
	RequirementBiometricLivenessVerified,
	RequirementFinancialIdentityNumberVerified,
	RequirementGovernmentIDDocumentVerified,
	RequirementPassportVerified,
}

// RequirementKinds lists every known requirement in catalog order.
func RequirementKinds() []RequirementKind {
	return slices.Clone(requirementKinds)
}

// ParseRequirementKind validates a requirement received at a trust boundary.
func ParseRequirementKind(s string) (RequirementKind, error) {
	k := RequirementKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown requirement: "+s)
	}
	return k, nil
}

func (k RequirementKind) IsValid() bool {
	return slices.Contains(requirementKinds, k)
}

func (k RequirementKind) String() string { return string(k) }

// FeatureFlag names a product capability unlocked by a tier.
type FeatureFlag string

const (
	FeatureViewMarkets    FeatureFlag = "view_markets"
	FeatureDepositCrypto  FeatureFlag = "deposit_crypto"
	FeatureTradeSpot      FeatureFlag = "trade_spot"
	FeatureWithdrawCrypto FeatureFlag = "withdraw_crypto"
	FeatureWithdrawFiat   FeatureFlag = "withdraw_fiat"
	FeatureP2PTransfer    FeatureFlag = "p2p_transfer"
	FeatureCardIssuance   FeatureFlag = "card_issuance"
)

var featureFlags = []FeatureFlag{
	FeatureViewMarkets,
	FeatureDepositCrypto,
	FeatureTradeSpot,
	FeatureWithdrawCrypto,
	FeatureWithdrawFiat,
	FeatureP2PTransfer,
	FeatureCardIssuance,
}

func ParseFeatureFlag(s string) (FeatureFlag, error) {
	f := FeatureFlag(s)
	if !slices.Contains(featureFlags, f) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown feature: "+s)
	}
	return f, nil
}

// Tier is an immutable catalog entry. Ordinal defines the total order;
// RequiredProofs lists only this tier's incremental requirements.
type Tier struct {
	Key              string
	Ordinal          int
	Name             string
	RequiredProofs   []RequirementKind
	DailyLimit       decimal.Decimal
	MonthlyLimit     decimal.Decimal
	WithdrawalLimit  decimal.Decimal
	UnlockedFeatures []FeatureFlag
}

// UnverifiedKey is reserved for the sentinel tier.
const UnverifiedKey = "unverified"

// IsUnverified reports whether t is the sentinel returned before any tier is
// complete.
func (t Tier) IsUnverified() bool {
	return t.Ordinal == 0
}

// Requires reports whether k is one of this tier's own proofs.
func (t Tier) Requires(k RequirementKind) bool {
	return slices.Contains(t.RequiredProofs, k)
}

func (t Tier) Unlocks(f FeatureFlag) bool {
	return slices.Contains(t.UnlockedFeatures, f)
}

func (t Tier) clone() Tier {
	t.RequiredProofs = slices.Clone(t.RequiredProofs)
	t.UnlockedFeatures = slices.Clone(t.UnlockedFeatures)
	return t
}
