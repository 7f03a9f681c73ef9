package domain

import (
	"github.com/google/uuid"

	dErrors "tiergate/pkg/domain-errors"
)

const maxUserIDLength = 128

// UserID identifies a user by the account id issued by the identity provider.
// Invariant: non-empty, at most 128 bytes, drawn from [A-Za-z0-9._:-].
//
// The identity provider owns the format, so this is deliberately not a UUID.
type UserID string

// ParseUserID validates a user id received at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user_id cannot be empty")
	}
	if len(s) > maxUserIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user_id is too long")
	}
	for i := 0; i < len(s); i++ {
		if !isUserIDChar(s[i]) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "user_id contains invalid characters")
		}
	}
	return UserID(s), nil
}

func isUserIDChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == ':', c == '-':
		return true
	}
	return false
}

func (id UserID) String() string { return string(id) }

func (id UserID) IsNil() bool { return id == "" }

// TransactionID identifies one provisioning saga instance.
type TransactionID uuid.UUID

// NewTransactionID returns a random transaction id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New())
}

// ParseTransactionID validates a saga id; the nil UUID is rejected.
func ParseTransactionID(s string) (TransactionID, error) {
	if s == "" {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "transaction_id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid transaction_id")
	}
	if parsed == uuid.Nil {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "transaction_id cannot be nil")
	}
	return TransactionID(parsed), nil
}

func (id TransactionID) String() string { return uuid.UUID(id).String() }

func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
