package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validation failure reasons, in the order they are checked.
var (
	// ErrNotFound is returned when no rule exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the rule has been deactivated.
	ErrInactive = errors.New("coupon inactive")
	// ErrNotYetValid is returned before the rule's validity window opens.
	ErrNotYetValid = errors.New("coupon not yet valid")
	// ErrExpired is returned after the rule's validity window closes.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when the global usage counter has
	// consumed every slot. Also returned by ConsumeUse when the conditional
	// increment loses the race for the last slot.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrBelowMinCartValue is returned when the cart's gross total does not
	// meet the rule's minimum.
	ErrBelowMinCartValue = errors.New("cart total below coupon minimum")
	// ErrAlreadyApplied is returned when the code is already the cart's
	// active discount.
	ErrAlreadyApplied = errors.New("coupon already applied")
)

// Rule defines a percentage-off discount with a cap, a validity window, and
// a global usage limit shared across all customers.
type Rule struct {
	ID                 string
	Code               string
	DiscountPercentage decimal.Decimal
	MaxDiscount        decimal.Decimal
	MinCartValue       decimal.Decimal
	ValidFrom          time.Time
	ValidUntil         time.Time
	UsageLimit         int
	TimesUsed          int
	Active             bool
	CreatedAt          time.Time
}

// CanonicalCode normalizes a coupon code for lookup and comparison.
// Codes are case-insensitive and stored upper-case.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of discount rules.
//
// ConsumeUse must be an atomic conditional increment: it succeeds only while
// times_used < usage_limit at the instant of the update, returning
// ErrUsageLimitReached otherwise, and deactivates the rule once the limit is
// hit. Callers treat a failed ConsumeUse as a validation failure and roll
// back whatever depended on the rule.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	FindByID(ctx context.Context, id string) (*Rule, error)
	ConsumeUse(ctx context.Context, id string) error

	Create(ctx context.Context, rule *Rule) error
	List(ctx context.Context) ([]Rule, error)
	Delete(ctx context.Context, id string) error
}

// Validate checks whether rule may be applied to a cart with the given gross
// total. appliedCode is the cart's currently applied coupon code ("" when
// none). Checks run in a fixed order: active flag, validity window, usage
// slots, cart minimum, then double-application.
func Validate(rule *Rule, grossTotal decimal.Decimal, appliedCode string, now time.Time) error {
	if !rule.Active {
		return ErrInactive
	}
	if now.Before(rule.ValidFrom) {
		return ErrNotYetValid
	}
	if now.After(rule.ValidUntil) {
		return ErrExpired
	}
	if rule.UsageLimit > 0 && rule.TimesUsed >= rule.UsageLimit {
		return ErrUsageLimitReached
	}
	if grossTotal.LessThan(rule.MinCartValue) {
		return ErrBelowMinCartValue
	}
	if appliedCode != "" && CanonicalCode(appliedCode) == CanonicalCode(rule.Code) {
		return ErrAlreadyApplied
	}
	return nil
}
