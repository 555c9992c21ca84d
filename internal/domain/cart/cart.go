package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the owner has no cart.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when the referenced product is not a cart line.
	ErrItemNotFound = errors.New("product not found in cart")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrNoCouponApplied is returned when removing a coupon from a cart
	// that has none, or a different one, applied.
	ErrNoCouponApplied = errors.New("coupon is not applied to this cart")
)

// InsufficientStockError indicates the requested quantity exceeds the
// product's current stock.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d units of product %s available", e.Available, e.ProductID)
}

// LineItem is a cart line. UnitPrice and ProductName are snapshots taken
// when the line was added; checkout re-validates UnitPrice against the
// authoritative catalog price.
type LineItem struct {
	ProductID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	ProductName string
}

// AppliedDiscount is the cart's single active coupon, snapshotted so later
// rule edits cannot change what the customer was promised.
type AppliedDiscount struct {
	RuleID             string
	Code               string
	DiscountPercentage decimal.Decimal
	MaxDiscount        decimal.Decimal
	AppliedAt          time.Time
}

// Cart holds one user's pending purchase. Totals are recomputed synchronously
// after every mutation and are never persisted stale.
type Cart struct {
	OwnerID         string
	Items           []LineItem
	AppliedDiscount *AppliedDiscount
	GrossTotal      decimal.Decimal
	NetTotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	UpdatedAt       time.Time
}

// Item returns a pointer to the line for productID, or nil.
func (c *Cart) Item(productID string) *LineItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// RemoveItem drops the line for productID, reporting whether it existed.
func (c *Cart) RemoveItem(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Repository defines persistence operations for carts. Save upserts the cart
// document and replaces its line items atomically.
type Repository interface {
	Get(ctx context.Context, ownerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, ownerID string) error
}
