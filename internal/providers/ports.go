// Package providers defines the identity and exchange provider ports used by
// account provisioning and wraps them with timeouts, retries and a circuit
// breaker.
package providers

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks IdentityProvider,ExchangeAccountProvider

// Profile carries the signup fields forwarded to providers.
type Profile struct {
	FirstName string
	LastName  string
	Country   string
	Phone     string
}

// IdentityProvider owns base accounts.
type IdentityProvider interface {
	// CreateAccount fails with duplicate_email, invalid_input or
	// provider_unavailable.
	CreateAccount(ctx context.Context, email string, profile Profile) (string, error)
	// DeleteAccount is idempotent: deleting a missing account succeeds or
	// reports not_found, which callers treat as success.
	DeleteAccount(ctx context.Context, identityID string) error
}

// ExchangeAccountProvider owns trading sub-accounts.
type ExchangeAccountProvider interface {
	// CreateSubAccount fails with provider_unavailable or
	// rejected_by_compliance.
	CreateSubAccount(ctx context.Context, identityID string, profile Profile) (string, error)
}
