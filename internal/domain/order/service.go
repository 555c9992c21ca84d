package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vastramart/backend/internal/domain/cart"
	"github.com/vastramart/backend/internal/domain/coupon"
	"github.com/vastramart/backend/internal/domain/pricing"
	"github.com/vastramart/backend/internal/domain/product"
	"github.com/vastramart/backend/internal/notify"
	"github.com/vastramart/backend/internal/payment"
	"github.com/vastramart/backend/internal/shipment"
)

// paymentMethods are the method strings checkout accepts.
var paymentMethods = map[string]bool{
	"card": true,
	"upi":  true,
}

// Notifier enqueues a best-effort notification.
type Notifier interface {
	Enqueue(msg notify.Message)
}

// Deps are the collaborators of the order Service.
type Deps struct {
	Orders    Repository
	Carts     cart.Repository
	Products  product.Repository
	Coupons   coupon.Repository
	Gateway   payment.Gateway
	Shipments shipment.Dispatcher
	Notifier  Notifier
	Alerts    AlertRecorder
	Tx        TxManager

	Pricing pricing.Config
	// WebhookSecret is the shared secret for confirmation signatures.
	WebhookSecret []byte
	Currency      string
}

// Service orchestrates checkout, payment confirmation, and the follow-up
// shipment dispatch.
type Service struct {
	deps Deps

	now   func() time.Time
	newID func() string
}

// NewService creates an order Service.
func NewService(deps Deps) *Service {
	return &Service{
		deps:  deps,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// CheckoutItem selects a cart line (or part of it) for checkout.
type CheckoutItem struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest holds the input for a checkout attempt.
type CheckoutRequest struct {
	OwnerID       string
	Items         []CheckoutItem
	PaymentMethod string
}

// CheckoutResult is returned to the client so it can complete the gateway
// payment flow.
type CheckoutResult struct {
	Order            *Order
	AmountDue        decimal.Decimal
	AmountMinorUnits int64
}

// Checkout converts selected cart lines into a pending order and a gateway
// payment intent.
//
// The gateway call happens before the storage transaction so no lock is held
// across the network; if the transaction then fails, the orphaned intent is
// acceptable collateral (gateways expire unused intents). If intent creation
// fails, nothing is persisted and the cart is untouched.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !paymentMethods[req.PaymentMethod] {
		return nil, ErrInvalidPaymentMethod
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	c, err := s.deps.Carts.Get(ctx, req.OwnerID)
	if errors.Is(err, cart.ErrNotFound) {
		return nil, ErrEmptyCart
	} else if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	orderItems, err := s.validateSelection(ctx, c, req.Items)
	if err != nil {
		return nil, err
	}

	totals, snapshot := s.price(orderItems, c.AppliedDiscount)
	charge := totals.Net.Add(totals.ShippingFee)
	amountMinor := charge.Shift(2).Round(0).IntPart()

	receipt := "rcpt_" + s.newID()
	intentID, err := s.deps.Gateway.CreateIntent(ctx, amountMinor, s.deps.Currency, receipt, map[string]string{
		"owner_id": req.OwnerID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}

	o := &Order{
		ID:             s.newID(),
		OwnerID:        req.OwnerID,
		Items:          orderItems,
		TotalAmount:    totals.Net,
		ShippingFee:    totals.ShippingFee,
		Discount:       snapshot,
		Currency:       s.deps.Currency,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  PaymentPending,
		Status:         StatusPending,
		GatewayOrderID: intentID,
		ReceiptID:      receipt,
		CreatedAt:      s.now(),
		UpdatedAt:      s.now(),
	}

	err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return s.shrinkCart(ctx, c, req.Items)
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		Order:            o,
		AmountDue:        charge,
		AmountMinorUnits: amountMinor,
	}, nil
}

// validateSelection checks every selected item against the cart and the
// authoritative catalog, returning frozen order lines.
func (s *Service) validateSelection(ctx context.Context, c *cart.Cart, selection []CheckoutItem) ([]Item, error) {
	ids := make([]string, len(selection))
	for i, sel := range selection {
		ids[i] = sel.ProductID
	}
	fetched, err := s.deps.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	products := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		products[p.ID] = p
	}

	items := make([]Item, 0, len(selection))
	for _, sel := range selection {
		line := c.Item(sel.ProductID)
		if line == nil {
			return nil, &ItemNotInCartError{ProductID: sel.ProductID}
		}
		if sel.Quantity < 1 || sel.Quantity > line.Quantity {
			return nil, &QuantityExceedsCartError{ProductID: sel.ProductID}
		}
		p, ok := products[sel.ProductID]
		if !ok {
			return nil, product.ErrNotFound
		}
		// Stale cart prices must not be charged.
		if !line.UnitPrice.Equal(p.Price) {
			return nil, &PriceChangedError{ProductID: sel.ProductID}
		}
		items = append(items, Item{
			ProductID:   sel.ProductID,
			Quantity:    sel.Quantity,
			UnitPrice:   line.UnitPrice,
			ProductName: line.ProductName,
			SKU:         p.SKU,
		})
	}
	return items, nil
}

func (s *Service) price(items []Item, applied *cart.AppliedDiscount) (pricing.Totals, *DiscountSnapshot) {
	pitems := make([]pricing.Item, len(items))
	for i, item := range items {
		pitems[i] = pricing.Item{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	var d *pricing.Discount
	if applied != nil {
		d = &pricing.Discount{
			Percentage: applied.DiscountPercentage,
			MaxAmount:  applied.MaxDiscount,
		}
	}
	totals := pricing.ComputeTotals(pitems, d, s.deps.Pricing)

	var snapshot *DiscountSnapshot
	if applied != nil {
		snapshot = &DiscountSnapshot{
			RuleID:             applied.RuleID,
			Code:               applied.Code,
			DiscountPercentage: applied.DiscountPercentage,
			MaxDiscount:        applied.MaxDiscount,
			Amount:             totals.Discount,
		}
	}
	return totals, snapshot
}

// shrinkCart removes the checked-out quantities; a fully drained cart is
// deleted, a partial one is repriced and saved.
func (s *Service) shrinkCart(ctx context.Context, c *cart.Cart, selection []CheckoutItem) error {
	for _, sel := range selection {
		line := c.Item(sel.ProductID)
		if line == nil {
			continue
		}
		line.Quantity -= sel.Quantity
		if line.Quantity <= 0 {
			c.RemoveItem(sel.ProductID)
		}
	}
	if len(c.Items) == 0 {
		if err := s.deps.Carts.Delete(ctx, c.OwnerID); err != nil {
			return errors.Wrap(err, "delete cart")
		}
		return nil
	}
	cart.Reprice(c, s.deps.Pricing)
	c.UpdatedAt = s.now()
	if err := s.deps.Carts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// ConfirmRequest is the gateway-signed payment completion signal.
type ConfirmRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Confirm verifies a payment completion and finalizes the order.
//
// Signature verification never mutates state. The pending-order lookup, the
// discount usage increment, and the Paid transition share one transaction:
// a lost race for the coupon's last usage slot aborts everything, leaving
// the order pending and escalating to an operator (payment is captured but
// the order cannot honour the discount). Cart cleanup, notification, and
// shipment creation run after commit and are best-effort: a shipment failure
// leaves the order Paid/Processing with an operator alert rather than
// rolling back captured money.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Order, error) {
	if !payment.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature, s.deps.WebhookSecret) {
		return nil, ErrInvalidSignature
	}

	info, err := s.deps.Gateway.FetchPayment(ctx, req.GatewayPaymentID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch payment")
	}
	if info.Status != payment.Captured {
		return nil, ErrPaymentNotCaptured
	}

	var o *Order
	err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.deps.Orders.GetPendingByGatewayOrderID(ctx, req.GatewayOrderID)
		if err != nil {
			return err
		}
		if o.Discount != nil {
			if err := s.deps.Coupons.ConsumeUse(ctx, o.Discount.RuleID); err != nil {
				return err
			}
		}
		return s.deps.Orders.MarkPaid(ctx, o.ID, req.GatewayPaymentID, o.TotalAmount.Add(o.ShippingFee))
	})
	if err != nil {
		if errors.Is(err, coupon.ErrUsageLimitReached) && o != nil {
			s.alert(ctx, o.ID, "coupon usage limit reached after payment capture", err)
		}
		return nil, err
	}

	o.PaymentStatus = PaymentPaid
	o.Status = StatusProcessing
	o.GatewayPaymentID = req.GatewayPaymentID
	o.AmountPaid = o.TotalAmount.Add(o.ShippingFee)

	s.clearCartResidue(ctx, o.OwnerID)
	s.deps.Notifier.Enqueue(notify.Message{
		To:      o.OwnerID,
		Subject: fmt.Sprintf("Order %s confirmed", shortID(o.ID)),
		Text:    fmt.Sprintf("Payment of %s %s received for order %s.", o.AmountPaid, o.Currency, o.ID),
	})

	s.dispatchShipment(ctx, o)
	return o, nil
}

// clearCartResidue removes the applied discount left on the cart after a
// partial checkout. Best-effort: the order is already paid.
func (s *Service) clearCartResidue(ctx context.Context, ownerID string) {
	c, err := s.deps.Carts.Get(ctx, ownerID)
	if errors.Is(err, cart.ErrNotFound) {
		return // fully checked out, cart already deleted
	}
	if err != nil {
		zctx.From(ctx).Warn("load cart residue", zap.String("owner_id", ownerID), zap.Error(err))
		return
	}
	if c.AppliedDiscount == nil {
		return
	}
	c.AppliedDiscount = nil
	cart.Reprice(c, s.deps.Pricing)
	c.UpdatedAt = s.now()
	if err := s.deps.Carts.Save(ctx, c); err != nil {
		zctx.From(ctx).Warn("clear cart residue", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

// dispatchShipment creates the shipment for a paid order. Failures leave the
// order Paid/Processing and raise an operator alert.
func (s *Service) dispatchShipment(ctx context.Context, o *Order) {
	items := make([]shipment.Item, len(o.Items))
	for i, item := range o.Items {
		items[i] = shipment.Item{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}

	sh, err := s.deps.Shipments.CreateShipment(ctx, shipment.OrderSnapshot{
		OrderID:  o.ID,
		Items:    items,
		SubTotal: o.TotalAmount,
	})
	var labelURL string
	if err == nil {
		labelURL, err = s.deps.Shipments.GenerateLabel(ctx, sh.ID)
	}
	if err != nil {
		zctx.From(ctx).Error("shipment dispatch failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		s.alert(ctx, o.ID, "shipment creation failed for paid order", err)
		return
	}

	if err := s.deps.Orders.SetShipment(ctx, o.ID, sh.ID, labelURL); err != nil {
		zctx.From(ctx).Error("record shipment", zap.String("order_id", o.ID), zap.Error(err))
		s.alert(ctx, o.ID, "shipment created but could not be recorded", err)
		return
	}

	o.ShipmentID = sh.ID
	o.LabelURL = labelURL
	o.Status = StatusShipped

	s.deps.Notifier.Enqueue(notify.Message{
		To:      o.OwnerID,
		Subject: fmt.Sprintf("Order %s shipped", shortID(o.ID)),
		Text:    fmt.Sprintf("Your order %s is on its way. Tracking id: %s.", o.ID, sh.ID),
	})
}

func (s *Service) alert(ctx context.Context, orderID, reason string, cause error) {
	if err := s.deps.Alerts.Record(ctx, orderID, reason, cause); err != nil {
		zctx.From(ctx).Error("record admin alert",
			zap.String("order_id", orderID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// UpdateStatus is the administrative fulfilment-status transition. When the
// order moves to Shipped and a shipment exists, current tracking details are
// fetched best-effort.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, *shipment.TrackingInfo, error) {
	if !ValidStatus(status) {
		return nil, nil, ErrInvalidStatus
	}
	o, err := s.deps.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.deps.Orders.UpdateStatus(ctx, orderID, status); err != nil {
		return nil, nil, err
	}
	o.Status = status

	var tracking *shipment.TrackingInfo
	if status == StatusShipped && o.ShipmentID != "" {
		info, err := s.deps.Shipments.Track(ctx, o.ShipmentID)
		if err != nil {
			zctx.From(ctx).Warn("track shipment", zap.String("order_id", orderID), zap.Error(err))
		} else {
			tracking = &info
		}
	}
	return o, tracking, nil
}

// Delete cancels an order administratively. Delivered orders cannot be
// cancelled. An existing shipment is cancelled best-effort before the order
// record is removed.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	o, err := s.deps.Orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusDelivered {
		return ErrAlreadyDelivered
	}
	if o.ShipmentID != "" {
		if err := s.deps.Shipments.Cancel(ctx, o.ShipmentID); err != nil {
			zctx.From(ctx).Warn("cancel shipment",
				zap.String("order_id", orderID),
				zap.String("shipment_id", o.ShipmentID),
				zap.Error(err),
			)
		}
	}
	return s.deps.Orders.Delete(ctx, orderID)
}

// Get returns a single order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.deps.Orders.GetByID(ctx, orderID)
}

// ListByOwner returns the owner's orders, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	return s.deps.Orders.ListByOwner(ctx, ownerID)
}

// ListAll returns every order, newest first (administrative projection).
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.deps.Orders.ListAll(ctx)
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
