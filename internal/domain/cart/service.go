package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/vastramart/backend/internal/domain/coupon"
	"github.com/vastramart/backend/internal/domain/pricing"
	"github.com/vastramart/backend/internal/domain/product"
)

// Service owns all cart mutations. Every operation loads the owner's cart,
// mutates it, recomputes totals through the pricing engine, and persists the
// result.
type Service struct {
	carts    Repository
	products product.Repository
	coupons  coupon.Repository
	pricing  pricing.Config

	now func() time.Time
}

// NewService creates a cart Service with the required dependencies.
func NewService(
	carts Repository,
	products product.Repository,
	coupons coupon.Repository,
	cfg pricing.Config,
) *Service {
	return &Service{
		carts:    carts,
		products: products,
		coupons:  coupons,
		pricing:  cfg,
		now:      time.Now,
	}
}

// Get returns the owner's cart. Lines whose product has since been removed
// from the catalog are filtered out lazily here, rather than purged eagerly
// when the product disappears; a filtered cart is repriced and saved.
func (s *Service) Get(ctx context.Context, ownerID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return c, nil
	}

	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	known, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	exists := make(map[string]bool, len(known))
	for _, p := range known {
		exists[p.ID] = true
	}

	kept := c.Items[:0]
	for _, item := range c.Items {
		if exists[item.ProductID] {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(c.Items) {
		return c, nil
	}

	c.Items = kept
	s.reprice(c)
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

// AddItem adds quantity units of the product to the cart, incrementing an
// existing line. The stock check runs against the combined quantity. The cart
// is created lazily on the first add.
func (s *Service) AddItem(ctx context.Context, ownerID, productID string, quantity int) (*Cart, error) {
	return s.putItem(ctx, ownerID, productID, quantity, true)
}

// SetItemQuantity sets the line for the product to exactly quantity units,
// creating the line (and the cart) when absent.
func (s *Service) SetItemQuantity(ctx context.Context, ownerID, productID string, quantity int) (*Cart, error) {
	return s.putItem(ctx, ownerID, productID, quantity, false)
}

func (s *Service) putItem(ctx context.Context, ownerID, productID string, quantity int, increment bool) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		c = &Cart{OwnerID: ownerID}
	} else if err != nil {
		return nil, err
	}

	want := quantity
	item := c.Item(productID)
	if item != nil && increment {
		want = item.Quantity + quantity
	}
	if want > p.Stock {
		return nil, &InsufficientStockError{ProductID: productID, Available: p.Stock}
	}

	if item != nil {
		item.Quantity = want
	} else {
		c.Items = append(c.Items, LineItem{
			ProductID:   productID,
			Quantity:    want,
			UnitPrice:   p.Price,
			ProductName: p.Name,
		})
	}

	return s.saveRepriced(ctx, c)
}

// UpdateQuantity sets the quantity of an existing line. Unlike
// SetItemQuantity it fails when the cart or the line does not exist.
func (s *Service) UpdateQuantity(ctx context.Context, ownerID, productID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > p.Stock {
		return nil, &InsufficientStockError{ProductID: productID, Available: p.Stock}
	}

	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	item := c.Item(productID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	item.Quantity = quantity

	return s.saveRepriced(ctx, c)
}

// RemoveItem deletes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, ownerID, productID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !c.RemoveItem(productID) {
		return nil, ErrItemNotFound
	}
	return s.saveRepriced(ctx, c)
}

// Clear empties the cart: items gone, coupon removed, totals zeroed.
func (s *Service) Clear(ctx context.Context, ownerID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.Items = nil
	c.AppliedDiscount = nil
	return s.saveRepriced(ctx, c)
}

// ApplyCoupon validates the code against the cart and snapshots it as the
// single active discount. A second coupon cannot be applied while one is
// active; the existing one must be removed first.
func (s *Service) ApplyCoupon(ctx context.Context, ownerID, code string) (*Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	rule, err := s.coupons.FindByCode(ctx, coupon.CanonicalCode(code))
	if err != nil {
		return nil, err
	}

	applied := ""
	if c.AppliedDiscount != nil {
		// Any active discount blocks a second application, not just the
		// same code.
		applied = c.AppliedDiscount.Code
		if coupon.CanonicalCode(applied) != coupon.CanonicalCode(rule.Code) {
			return nil, coupon.ErrAlreadyApplied
		}
	}
	if err := coupon.Validate(rule, c.GrossTotal, applied, s.now()); err != nil {
		return nil, err
	}

	c.AppliedDiscount = &AppliedDiscount{
		RuleID:             rule.ID,
		Code:               rule.Code,
		DiscountPercentage: rule.DiscountPercentage,
		MaxDiscount:        rule.MaxDiscount,
		AppliedAt:          s.now(),
	}
	return s.saveRepriced(ctx, c)
}

// RemoveCoupon removes the applied discount. The code must match the one
// currently applied.
func (s *Service) RemoveCoupon(ctx context.Context, ownerID, code string) (*Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if c.AppliedDiscount == nil ||
		coupon.CanonicalCode(c.AppliedDiscount.Code) != coupon.CanonicalCode(code) {
		return nil, ErrNoCouponApplied
	}
	c.AppliedDiscount = nil
	return s.saveRepriced(ctx, c)
}

func (s *Service) saveRepriced(ctx context.Context, c *Cart) (*Cart, error) {
	s.reprice(c)
	c.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

func (s *Service) reprice(c *Cart) {
	Reprice(c, s.pricing)
}

// Reprice recomputes the cart's totals through the pricing engine. It is
// shared with checkout, which shrinks carts outside this service.
func Reprice(c *Cart, cfg pricing.Config) {
	items := make([]pricing.Item, len(c.Items))
	for i, item := range c.Items {
		items[i] = pricing.Item{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	var d *pricing.Discount
	if c.AppliedDiscount != nil {
		d = &pricing.Discount{
			Percentage: c.AppliedDiscount.DiscountPercentage,
			MaxAmount:  c.AppliedDiscount.MaxDiscount,
		}
	}
	t := pricing.ComputeTotals(items, d, cfg)
	c.GrossTotal = t.Gross
	c.NetTotal = t.Net
	c.ShippingFee = t.ShippingFee
}
