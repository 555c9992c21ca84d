package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastramart/backend/internal/domain/cart"
	"github.com/vastramart/backend/internal/domain/coupon"
	"github.com/vastramart/backend/internal/domain/pricing"
	"github.com/vastramart/backend/internal/domain/product"
	"github.com/vastramart/backend/internal/notify"
	"github.com/vastramart/backend/internal/payment"
	"github.com/vastramart/backend/internal/shipment"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	testNow    = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	testSecret = []byte("test-webhook-secret")
)

func sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// In-memory doubles. The coupon repository mirrors the conditional-update
// semantics of the real one so races can be exercised.

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetPendingByGatewayOrderID(_ context.Context, gatewayOrderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID == gatewayOrderID && o.PaymentStatus == PaymentPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrInvalidOrder
}

func (m *memOrderRepo) MarkPaid(_ context.Context, id, gatewayPaymentID string, amountPaid decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus != PaymentPending {
		return ErrInvalidOrder
	}
	o.PaymentStatus = PaymentPaid
	o.Status = StatusProcessing
	o.GatewayPaymentID = gatewayPaymentID
	o.AmountPaid = amountPaid
	return nil
}

func (m *memOrderRepo) SetShipment(_ context.Context, id, shipmentID, labelURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.ShipmentID = shipmentID
	o.LabelURL = labelURL
	o.Status = StatusShipped
	return nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *memOrderRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	return nil
}

func (m *memOrderRepo) ListByOwner(_ context.Context, ownerID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) ListAll(_ context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]*cart.Cart)}
}

func (m *memCartRepo) Get(_ context.Context, ownerID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[ownerID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Items = append([]cart.LineItem(nil), c.Items...)
	if c.AppliedDiscount != nil {
		d := *c.AppliedDiscount
		cp.AppliedDiscount = &d
	}
	return &cp, nil
}

func (m *memCartRepo) Save(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Items = append([]cart.LineItem(nil), c.Items...)
	m.carts[c.OwnerID] = &cp
	return nil
}

func (m *memCartRepo) Delete(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, ownerID)
	return nil
}

type mockProductRepo struct {
	products map[string]product.Product
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) { return nil, nil }

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCouponRepo struct {
	mu    sync.Mutex
	rules map[string]*coupon.Rule
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if coupon.CanonicalCode(r.Code) == coupon.CanonicalCode(code) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*coupon.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ConsumeUse mirrors the conditional UPDATE: exactly one caller can take the
// last slot.
func (m *mockCouponRepo) ConsumeUse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return coupon.ErrNotFound
	}
	if !r.Active || r.TimesUsed >= r.UsageLimit {
		return coupon.ErrUsageLimitReached
	}
	r.TimesUsed++
	return nil
}

func (m *mockCouponRepo) Create(_ context.Context, rule *coupon.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockCouponRepo) List(_ context.Context) ([]coupon.Rule, error) { return nil, nil }
func (m *mockCouponRepo) Delete(_ context.Context, _ string) error      { return nil }

type mockGateway struct {
	mu         sync.Mutex
	intents    int
	intentErr  error
	payments   map[string]payment.Info
	fetchErr   error
	lastAmount int64
}

func (m *mockGateway) CreateIntent(_ context.Context, amountMinorUnits int64, _, _ string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.intentErr != nil {
		return "", m.intentErr
	}
	m.intents++
	m.lastAmount = amountMinorUnits
	return fmt.Sprintf("gw_order_%d", m.intents), nil
}

func (m *mockGateway) FetchPayment(_ context.Context, paymentID string) (payment.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return payment.Info{}, m.fetchErr
	}
	info, ok := m.payments[paymentID]
	if !ok {
		return payment.Info{ID: paymentID, Status: payment.Captured}, nil
	}
	return info, nil
}

type mockDispatcher struct {
	mu        sync.Mutex
	createErr error
	labelErr  error
	created   []string
	cancelled []string
}

func (m *mockDispatcher) CreateShipment(_ context.Context, snapshot shipment.OrderSnapshot) (shipment.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return shipment.Shipment{}, m.createErr
	}
	m.created = append(m.created, snapshot.OrderID)
	return shipment.Shipment{ID: "ship_" + snapshot.OrderID, OrderID: snapshot.OrderID}, nil
}

func (m *mockDispatcher) GenerateLabel(_ context.Context, shipmentID string) (string, error) {
	if m.labelErr != nil {
		return "", m.labelErr
	}
	return "https://labels.example.com/" + shipmentID + ".pdf", nil
}

func (m *mockDispatcher) Track(_ context.Context, _ string) (shipment.TrackingInfo, error) {
	return shipment.TrackingInfo{Status: "in_transit", Courier: "speedpost"}, nil
}

func (m *mockDispatcher) Cancel(_ context.Context, shipmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, shipmentID)
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (m *mockNotifier) Enqueue(msg notify.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

type mockAlerts struct {
	mu      sync.Mutex
	records []string
}

func (m *mockAlerts) Record(_ context.Context, orderID, reason string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, orderID+": "+reason)
	return nil
}

// passTx runs the closure directly; the in-memory repositories are atomic on
// their own.
type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc        *Service
	orders     *memOrderRepo
	carts      *memCartRepo
	products   *mockProductRepo
	coupons    *mockCouponRepo
	gateway    *mockGateway
	dispatcher *mockDispatcher
	notifier   *mockNotifier
	alerts     *mockAlerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders: newMemOrderRepo(),
		carts:  newMemCartRepo(),
		products: &mockProductRepo{products: map[string]product.Product{
			"kurta-1": {ID: "kurta-1", Name: "Cotton Kurta", SKU: "KRT-001", Price: dec("500"), Stock: 10},
			"sock-1":  {ID: "sock-1", Name: "Ankle Socks", SKU: "SCK-001", Price: dec("99"), Stock: 100},
		}},
		coupons:    &mockCouponRepo{rules: make(map[string]*coupon.Rule)},
		gateway:    &mockGateway{payments: make(map[string]payment.Info)},
		dispatcher: &mockDispatcher{},
		notifier:   &mockNotifier{},
		alerts:     &mockAlerts{},
	}

	f.svc = NewService(Deps{
		Orders:    f.orders,
		Carts:     f.carts,
		Products:  f.products,
		Coupons:   f.coupons,
		Gateway:   f.gateway,
		Shipments: f.dispatcher,
		Notifier:  f.notifier,
		Alerts:    f.alerts,
		Tx:        passTx{},
		Pricing: pricing.Config{
			FlatShippingFee:       dec("55"),
			FreeShippingThreshold: dec("800"),
		},
		WebhookSecret: testSecret,
		Currency:      "INR",
	})
	f.svc.now = func() time.Time { return testNow }

	var seq int
	var mu sync.Mutex
	f.svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return f
}

func (f *fixture) seedCart(ownerID string, withCoupon bool) {
	c := &cart.Cart{
		OwnerID: ownerID,
		Items: []cart.LineItem{
			{ProductID: "kurta-1", Quantity: 2, UnitPrice: dec("500"), ProductName: "Cotton Kurta"},
		},
		GrossTotal: dec("1000"),
		NetTotal:   dec("1000"),
	}
	if withCoupon {
		f.coupons.rules["rule-save20"] = &coupon.Rule{
			ID:                 "rule-save20",
			Code:               "SAVE20",
			DiscountPercentage: dec("20"),
			MaxDiscount:        dec("150"),
			ValidFrom:          testNow.Add(-time.Hour),
			ValidUntil:         testNow.Add(time.Hour),
			UsageLimit:         10,
			Active:             true,
		}
		c.AppliedDiscount = &cart.AppliedDiscount{
			RuleID:             "rule-save20",
			Code:               "SAVE20",
			DiscountPercentage: dec("20"),
			MaxDiscount:        dec("150"),
			AppliedAt:          testNow,
		}
		c.NetTotal = dec("850")
	}
	_ = f.carts.Save(context.Background(), c)
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("full cart with coupon", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", true)

		result, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 2}},
			PaymentMethod: "card",
		})
		require.NoError(t, err)

		o := result.Order
		assert.True(t, o.TotalAmount.Equal(dec("850")), "total %s", o.TotalAmount)
		assert.True(t, o.ShippingFee.IsZero())
		require.NotNil(t, o.Discount)
		assert.True(t, o.Discount.Amount.Equal(dec("150")))
		assert.Equal(t, PaymentPending, o.PaymentStatus)
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, "gw_order_1", o.GatewayOrderID)
		assert.Equal(t, "KRT-001", o.Items[0].SKU)

		assert.True(t, result.AmountDue.Equal(dec("850")))
		assert.Equal(t, int64(85000), result.AmountMinorUnits)
		assert.Equal(t, int64(85000), f.gateway.lastAmount)

		// Fully drained cart is deleted.
		_, err = f.carts.Get(ctx, "alice")
		assert.ErrorIs(t, err, cart.ErrNotFound)

		// Coupon usage is not consumed at checkout, only at confirmation.
		assert.Equal(t, 0, f.coupons.rules["rule-save20"].TimesUsed)
	})

	t.Run("partial checkout shrinks the cart", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "upi",
		})
		require.NoError(t, err)

		c, err := f.carts.Get(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 1, c.Items[0].Quantity)
		assert.True(t, c.GrossTotal.Equal(dec("500")), "gross %s", c.GrossTotal)
		assert.True(t, c.ShippingFee.Equal(dec("55")))
	})

	t.Run("invalid payment method", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "cheque",
		})
		assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
	})

	t.Run("empty selection", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{OwnerID: "alice", PaymentMethod: "card"})
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("missing cart", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "nobody",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "card",
		})
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("item not in cart", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "sock-1", Quantity: 1}},
			PaymentMethod: "card",
		})
		var notInCart *ItemNotInCartError
		assert.ErrorAs(t, err, &notInCart)
	})

	t.Run("quantity exceeds cart", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 5}},
			PaymentMethod: "card",
		})
		var exceeds *QuantityExceedsCartError
		assert.ErrorAs(t, err, &exceeds)
	})

	t.Run("price changed since the cart snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)
		f.products.products["kurta-1"] = product.Product{
			ID: "kurta-1", Name: "Cotton Kurta", SKU: "KRT-001", Price: dec("550"), Stock: 10,
		}

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "card",
		})
		var changed *PriceChangedError
		require.ErrorAs(t, err, &changed)
		assert.Equal(t, "kurta-1", changed.ProductID)

		// Nothing was persisted and no money was moved.
		assert.Equal(t, 0, f.gateway.intents)
		orders, _ := f.orders.ListAll(ctx)
		assert.Empty(t, orders)
	})

	t.Run("gateway intent failure leaves cart untouched", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", false)
		f.gateway.intentErr = errors.New("gateway down")

		_, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 2}},
			PaymentMethod: "card",
		})
		require.Error(t, err)

		c, err := f.carts.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, c.Items[0].Quantity)
		orders, _ := f.orders.ListAll(ctx)
		assert.Empty(t, orders)
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	checkout := func(t *testing.T, f *fixture, withCoupon bool) *Order {
		t.Helper()
		f.seedCart("alice", withCoupon)
		result, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 2}},
			PaymentMethod: "card",
		})
		require.NoError(t, err)
		return result.Order
	}

	t.Run("happy path ships the order", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, true)

		got, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		})
		require.NoError(t, err)

		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.Equal(t, StatusShipped, got.Status)
		assert.Equal(t, "pay_1", got.GatewayPaymentID)
		assert.True(t, got.AmountPaid.Equal(dec("850")))
		assert.NotEmpty(t, got.ShipmentID)
		assert.NotEmpty(t, got.LabelURL)

		assert.Equal(t, 1, f.coupons.rules["rule-save20"].TimesUsed)
		assert.Len(t, f.notifier.messages, 2) // confirmation + shipped
		assert.Empty(t, f.alerts.records)

		stored, err := f.orders.GetByID(ctx, got.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusShipped, stored.Status)
	})

	t.Run("tampered signature rejected before any lookup", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, false)

		_, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_other"),
		})
		assert.ErrorIs(t, err, ErrInvalidSignature)

		stored, _ := f.orders.GetByID(ctx, o.ID)
		assert.Equal(t, PaymentPending, stored.PaymentStatus)
	})

	t.Run("uncaptured payment rejected", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, false)
		f.gateway.payments["pay_1"] = payment.Info{ID: "pay_1", Status: "authorized"}

		_, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		})
		assert.ErrorIs(t, err, ErrPaymentNotCaptured)
	})

	t.Run("replay rejected", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, false)

		req := ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		}
		_, err := f.svc.Confirm(ctx, req)
		require.NoError(t, err)

		_, err = f.svc.Confirm(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("unknown gateway order rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   "gw_order_zzz",
			GatewayPaymentID: "pay_1",
			Signature:        sign("gw_order_zzz", "pay_1"),
		})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("shipment failure keeps order paid and alerts", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, false)
		f.dispatcher.createErr = errors.New("courier api down")

		got, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		})
		require.NoError(t, err)

		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.Equal(t, StatusProcessing, got.Status)
		assert.Empty(t, got.ShipmentID)
		require.Len(t, f.alerts.records, 1)
		assert.Contains(t, f.alerts.records[0], "shipment creation failed")

		// The same confirmation cannot be replayed to double-pay.
		_, err = f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("coupon exhausted after capture alerts and stays pending", func(t *testing.T) {
		f := newFixture(t)
		o := checkout(t, f, true)
		f.coupons.rules["rule-save20"].TimesUsed = f.coupons.rules["rule-save20"].UsageLimit

		_, err := f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   o.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(o.GatewayOrderID, "pay_1"),
		})
		assert.ErrorIs(t, err, coupon.ErrUsageLimitReached)

		stored, _ := f.orders.GetByID(ctx, o.ID)
		assert.Equal(t, PaymentPending, stored.PaymentStatus)
		require.Len(t, f.alerts.records, 1)
		assert.Contains(t, f.alerts.records[0], "usage limit")
	})

	t.Run("partial checkout residue loses its coupon", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("alice", true)

		result, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       "alice",
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "card",
		})
		require.NoError(t, err)

		_, err = f.svc.Confirm(ctx, ConfirmRequest{
			GatewayOrderID:   result.Order.GatewayOrderID,
			GatewayPaymentID: "pay_1",
			Signature:        sign(result.Order.GatewayOrderID, "pay_1"),
		})
		require.NoError(t, err)

		c, err := f.carts.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, c.AppliedDiscount)
		assert.True(t, c.NetTotal.Equal(c.GrossTotal))
	})
}

// Racing confirmations of distinct orders sharing a coupon's last slot:
// exactly one order wins the discount.
func TestConfirmCouponRace(t *testing.T) {
	ctx := context.Background()
	const racers = 12

	f := newFixture(t)
	f.coupons.rules["rule-last"] = &coupon.Rule{
		ID:                 "rule-last",
		Code:               "LASTONE",
		DiscountPercentage: dec("10"),
		MaxDiscount:        dec("100"),
		ValidFrom:          testNow.Add(-time.Hour),
		ValidUntil:         testNow.Add(time.Hour),
		UsageLimit:         1,
		Active:             true,
	}

	confirms := make([]ConfirmRequest, racers)
	for i := range racers {
		owner := fmt.Sprintf("user-%d", i)
		c := &cart.Cart{
			OwnerID: owner,
			Items: []cart.LineItem{
				{ProductID: "kurta-1", Quantity: 1, UnitPrice: dec("500"), ProductName: "Cotton Kurta"},
			},
			AppliedDiscount: &cart.AppliedDiscount{
				RuleID:             "rule-last",
				Code:               "LASTONE",
				DiscountPercentage: dec("10"),
				MaxDiscount:        dec("100"),
				AppliedAt:          testNow,
			},
			GrossTotal: dec("500"),
			NetTotal:   dec("450"),
		}
		require.NoError(t, f.carts.Save(ctx, c))

		result, err := f.svc.Checkout(ctx, CheckoutRequest{
			OwnerID:       owner,
			Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 1}},
			PaymentMethod: "card",
		})
		require.NoError(t, err)

		payID := fmt.Sprintf("pay_%d", i)
		confirms[i] = ConfirmRequest{
			GatewayOrderID:   result.Order.GatewayOrderID,
			GatewayPaymentID: payID,
			Signature:        sign(result.Order.GatewayOrderID, payID),
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		limitHits int
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(ctx, confirms[i])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, coupon.ErrUsageLimitReached):
				limitHits++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one confirmation may take the last slot")
	assert.Equal(t, racers-1, limitHits)
	assert.Equal(t, 1, f.coupons.rules["rule-last"].TimesUsed)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCart("alice", false)
	result, err := f.svc.Checkout(ctx, CheckoutRequest{
		OwnerID:       "alice",
		Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 2}},
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	id := result.Order.ID

	t.Run("invalid status", func(t *testing.T) {
		_, _, err := f.svc.UpdateStatus(ctx, id, Status("Teleported"))
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("valid transition", func(t *testing.T) {
		o, _, err := f.svc.UpdateStatus(ctx, id, StatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, o.Status)
	})

	t.Run("shipped with shipment id fetches tracking", func(t *testing.T) {
		require.NoError(t, f.orders.SetShipment(ctx, id, "ship_x", "label"))

		_, tracking, err := f.svc.UpdateStatus(ctx, id, StatusShipped)
		require.NoError(t, err)
		require.NotNil(t, tracking)
		assert.Equal(t, "in_transit", tracking.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, _, err := f.svc.UpdateStatus(ctx, "missing", StatusProcessing)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCart("alice", false)
	result, err := f.svc.Checkout(ctx, CheckoutRequest{
		OwnerID:       "alice",
		Items:         []CheckoutItem{{ProductID: "kurta-1", Quantity: 2}},
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	id := result.Order.ID

	t.Run("delivered orders cannot be removed", func(t *testing.T) {
		require.NoError(t, f.orders.UpdateStatus(ctx, id, StatusDelivered))
		err := f.svc.Delete(ctx, id)
		assert.ErrorIs(t, err, ErrAlreadyDelivered)
	})

	t.Run("shipment is cancelled alongside", func(t *testing.T) {
		require.NoError(t, f.orders.UpdateStatus(ctx, id, StatusProcessing))
		require.NoError(t, f.orders.SetShipment(ctx, id, "ship_y", "label"))

		require.NoError(t, f.svc.Delete(ctx, id))
		assert.Contains(t, f.dispatcher.cancelled, "ship_y")

		_, err := f.orders.GetByID(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
