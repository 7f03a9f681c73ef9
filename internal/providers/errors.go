package providers

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for identity and exchange
// providers. Callers branch on it; raw provider text never leaves this
// package's errors.
type Category string

const (
	CategoryDuplicateEmail       Category = "duplicate_email"
	CategoryInvalidInput         Category = "invalid_input"
	CategoryUnavailable          Category = "provider_unavailable"
	CategoryTimeout              Category = "timeout"
	CategoryRejectedByCompliance Category = "rejected_by_compliance"
	CategoryNotFound             Category = "not_found"
	CategoryInternal             Category = "internal"
)

// ProviderError wraps a provider failure with its category.
type ProviderError struct {
	Category   Category
	Provider   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewError builds a ProviderError. Timeouts and outages are retryable;
// everything else is a definitive answer.
func NewError(category Category, provider, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == CategoryTimeout || category == CategoryUnavailable,
	}
}

func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf returns the category of err, or CategoryInternal for errors
// that did not come from a provider.
func CategoryOf(err error) Category {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}

func IsCategory(err error, c Category) bool {
	return CategoryOf(err) == c
}
