package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "tiergate/pkg/domain"
	dErrors "tiergate/pkg/domain-errors"
)

type Operation string

const (
	OperationTrade      Operation = "trade"
	OperationWithdrawal Operation = "withdrawal"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationTrade, OperationWithdrawal:
		return op, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "operation must be trade or withdrawal")
}

// WindowKind is the accounting period of a usage window.
type WindowKind string

const (
	WindowDaily   WindowKind = "daily"
	WindowMonthly WindowKind = "monthly"
)

// LimitKind names the limit that refused an operation.
type LimitKind string

const (
	LimitDaily      LimitKind = "daily"
	LimitMonthly    LimitKind = "monthly"
	LimitWithdrawal LimitKind = "withdrawal"
)

type Reason string

const (
	ReasonLimitExceeded  Reason = "limit_exceeded"
	ReasonTierUnverified Reason = "tier_unverified"
)

// MaxFractionDigits bounds amount precision; it matches the NUMERIC scale of
// the usage_windows table.
const MaxFractionDigits = 18

// ValidateAmount rejects non-positive amounts and amounts finer than
// MaxFractionDigits. A bad amount is an input error, never a denial.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(MaxFractionDigits)) {
		return dErrors.New(dErrors.CodeValidation, "amount has too many decimal places")
	}
	return nil
}

// ParseAmount parses and validates a decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "amount must be a decimal number")
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Window tracks consumption for one user in one calendar period.
type Window struct {
	UserID      id.UserID
	Kind        WindowKind
	PeriodStart time.Time
	PeriodEnd   time.Time
	Consumed    decimal.Decimal
}

// PeriodFor returns the UTC calendar day or month containing now.
func PeriodFor(kind WindowKind, now time.Time) (start, end time.Time) {
	now = now.UTC()
	switch kind {
	case WindowMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

// NewWindow is an empty window for the period containing now.
func NewWindow(userID id.UserID, kind WindowKind, now time.Time) Window {
	start, end := PeriodFor(kind, now)
	return Window{UserID: userID, Kind: kind, PeriodStart: start, PeriodEnd: end, Consumed: decimal.Zero}
}

// Rolled returns w unchanged while now is inside its period. Otherwise it
// returns an empty window for the period containing now, however many
// periods have passed.
func (w Window) Rolled(now time.Time) Window {
	if now.Before(w.PeriodEnd) && !now.Before(w.PeriodStart) {
		return w
	}
	return NewWindow(w.UserID, w.Kind, now)
}

// Windows is the per-user atomic unit: both windows are read and written
// together.
type Windows struct {
	Daily   Window
	Monthly Window
}

func NewWindows(userID id.UserID, now time.Time) Windows {
	return Windows{
		Daily:   NewWindow(userID, WindowDaily, now),
		Monthly: NewWindow(userID, WindowMonthly, now),
	}
}

func (w Windows) Rolled(now time.Time) Windows {
	return Windows{Daily: w.Daily.Rolled(now), Monthly: w.Monthly.Rolled(now)}
}

// Decision is the result of Authorize. Denials are values, not errors.
type Decision struct {
	Authorized bool
	Reason     Reason
	LimitKind  LimitKind
	Operation  Operation
	Amount     decimal.Decimal
	TierKey    string
	// Remaining headroom after this decision, per checked limit.
	RemainingDaily   decimal.Decimal
	RemainingMonthly *decimal.Decimal
}

// WindowUsage pairs a window with its limit.
type WindowUsage struct {
	Window    Window
	Limit     decimal.Decimal
	Remaining decimal.Decimal
}

// Usage is the read-only view returned by Service.Usage.
type Usage struct {
	UserID          id.UserID
	TierKey         string
	WithdrawalLimit decimal.Decimal
	Daily           WindowUsage
	Monthly         WindowUsage
}

// Headroom is limit minus consumed, floored at zero.
func Headroom(limit, consumed decimal.Decimal) decimal.Decimal {
	rem := limit.Sub(consumed)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
