package models

import (
	"fmt"
	"strings"
	"time"

	"tiergate/internal/providers"
	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
	"tiergate/pkg/email"
)

// State is the persisted position of a provisioning transaction.
//
//	identity_created -> exchange_pending -> completed
//	identity_created | exchange_pending -> rolled_back
type State string

const (
	StateIdentityCreated State = "identity_created"
	StateExchangePending State = "exchange_pending"
	StateCompleted       State = "completed"
	StateRolledBack      State = "rolled_back"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRolledBack
}

// PendingStates are the states the reconciler drives to rolled_back.
func PendingStates() []State {
	return []State{StateIdentityCreated, StateExchangePending}
}

// Transaction records one signup across the identity and exchange providers.
type Transaction struct {
	ID                id.TransactionID
	Email             string
	IdentityAccountID string
	ExchangeAccountID *string
	State             State
	// Attempts counts compensation attempts.
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Step string

const (
	StepIdentity Step = "identity"
	StepExchange Step = "exchange"
)

// Reason is the machine-readable cause surfaced to signup callers.
type Reason string

const (
	ReasonDuplicateEmail       Reason = "duplicate_email"
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonProviderUnavailable  Reason = "provider_unavailable"
	ReasonRejectedByCompliance Reason = "rejected_by_compliance"
)

// ReasonFor collapses a provider error into a caller-facing reason. Timeouts
// and anything unrecognised read as provider_unavailable.
func ReasonFor(err error) Reason {
	switch providers.CategoryOf(err) {
	case providers.CategoryDuplicateEmail:
		return ReasonDuplicateEmail
	case providers.CategoryInvalidInput:
		return ReasonInvalidInput
	case providers.CategoryRejectedByCompliance:
		return ReasonRejectedByCompliance
	default:
		return ReasonProviderUnavailable
	}
}

// SignupFailed is returned when provisioning did not complete. It carries no
// provider text.
type SignupFailed struct {
	Step   Step
	Reason Reason
}

func (e *SignupFailed) Error() string {
	return fmt.Sprintf("signup failed at %s step: %s", e.Step, e.Reason)
}

const maxNameLength = 100

type SignupRequest struct {
	Email   string
	Profile providers.Profile
}

// Normalize trims fields and lower-cases the email.
func (r *SignupRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
	r.Profile.FirstName = strings.TrimSpace(r.Profile.FirstName)
	r.Profile.LastName = strings.TrimSpace(r.Profile.LastName)
	r.Profile.Country = strings.ToUpper(strings.TrimSpace(r.Profile.Country))
	r.Profile.Phone = strings.TrimSpace(r.Profile.Phone)
}

func (r *SignupRequest) Validate() error {
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if !email.Valid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if r.Profile.FirstName == "" || r.Profile.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "first and last name are required")
	}
	if len(r.Profile.FirstName) > maxNameLength || len(r.Profile.LastName) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name is too long")
	}
	if len(r.Profile.Country) != 2 {
		return dErrors.New(dErrors.CodeValidation, "country must be an ISO 3166-1 alpha-2 code")
	}
	return nil
}

type Result struct {
	TransactionID     id.TransactionID
	IdentityID        string
	ExchangeAccountID string
}
