package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// Status tracks fulfilment.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// ValidStatus reports whether s is a known fulfilment status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Sentinel errors for checkout and confirmation.
var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidSignature     = errors.New("invalid payment signature")
	// ErrInvalidOrder is returned when a confirmation references an order
	// that does not exist or is no longer pending. It guards replays and
	// double-confirmation.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrPaymentNotCaptured is returned when the gateway does not report the
	// payment as captured. The client may retry once the payment settles.
	ErrPaymentNotCaptured = errors.New("payment not captured")
	ErrNotFound           = errors.New("order not found")
	ErrInvalidStatus      = errors.New("invalid order status")
	// ErrAlreadyDelivered blocks cancellation of delivered orders.
	ErrAlreadyDelivered = errors.New("order already delivered")
)

// ItemNotInCartError indicates a checkout selected a product absent from the cart.
type ItemNotInCartError struct {
	ProductID string
}

func (e *ItemNotInCartError) Error() string {
	return fmt.Sprintf("product %s not found in cart", e.ProductID)
}

// QuantityExceedsCartError indicates a checkout selected more units than the
// cart holds.
type QuantityExceedsCartError struct {
	ProductID string
}

func (e *QuantityExceedsCartError) Error() string {
	return fmt.Sprintf("quantity for product %s exceeds cart quantity", e.ProductID)
}

// PriceChangedError indicates the cart's snapshotted unit price no longer
// matches the authoritative catalog price; the client must refresh the cart.
type PriceChangedError struct {
	ProductID string
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price changed for product %s, refresh cart", e.ProductID)
}

// Item is an order line, frozen at order-creation time and immune to later
// product or price changes.
type Item struct {
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
}

// DiscountSnapshot freezes the cart's applied coupon onto the order so a
// later rule edit cannot change what was charged.
type DiscountSnapshot struct {
	RuleID             string          `json:"rule_id"`
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	MaxDiscount        decimal.Decimal `json:"max_discount"`
	Amount             decimal.Decimal `json:"amount"`
}

// Order is a persisted checkout. TotalAmount is the discounted goods total;
// ShippingFee is carried separately and the gateway charge covers both.
type Order struct {
	ID               string
	OwnerID          string
	Items            []Item
	TotalAmount      decimal.Decimal
	ShippingFee      decimal.Decimal
	Discount         *DiscountSnapshot
	Currency         string
	PaymentMethod    string
	PaymentStatus    PaymentStatus
	Status           Status
	GatewayOrderID   string
	GatewayPaymentID string
	AmountPaid       decimal.Decimal
	ReceiptID        string
	ShipmentID       string
	LabelURL         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetPendingByGatewayOrderID locates an order by the gateway's order id,
	// but only while payment is still pending; otherwise ErrInvalidOrder.
	// Inside a transaction the row is locked until commit.
	GetPendingByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	// MarkPaid transitions Pending -> Paid/Processing, recording the gateway
	// payment id and the captured amount. ErrInvalidOrder when the order is
	// not pending anymore.
	MarkPaid(ctx context.Context, id, gatewayPaymentID string, amountPaid decimal.Decimal) error
	SetShipment(ctx context.Context, id, shipmentID, labelURL string) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}

// TxManager runs a function inside a storage transaction. All repository
// calls made with the inner context join the same transaction; either every
// write commits or none do.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AlertRecorder persists operator escalations, such as a paid order whose
// shipment could not be created.
type AlertRecorder interface {
	Record(ctx context.Context, orderID, reason string, cause error) error
}
