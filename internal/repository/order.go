package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/order"
)

const (
	orderColumns = `id, owner_id, items, total_amount, shipping_fee, discount, currency,
		payment_method, payment_status, order_status, gateway_order_id, gateway_payment_id,
		amount_paid, receipt_id, shipment_id, label_url, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, owner_id, items, total_amount, shipping_fee, discount,
			currency, payment_method, payment_status, order_status, gateway_order_id,
			gateway_payment_id, amount_paid, receipt_id, shipment_id, label_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	// The row lock serializes concurrent confirmations of the same order;
	// whichever transaction wins sees Pending, the rest see the updated row.
	getPendingOrderSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE gateway_order_id = $1 AND payment_status = 'Pending' FOR UPDATE`

	markOrderPaidSQL = `UPDATE orders
		SET payment_status = 'Paid', order_status = 'Processing',
			gateway_payment_id = $2, amount_paid = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'Pending'`

	setOrderShipmentSQL = `UPDATE orders
		SET shipment_id = $2, label_url = $3, order_status = 'Shipped', updated_at = now()
		WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET order_status = $2, updated_at = now() WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	listOrdersByOwnerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE owner_id = $1 ORDER BY created_at DESC`

	listAllOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items and
// the discount snapshot are serialized to JSONB columns.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	var discountJSON []byte
	if o.Discount != nil {
		if discountJSON, err = json.Marshal(o.Discount); err != nil {
			return fmt.Errorf("marshaling order discount: %w", err)
		}
	}

	_, err = from(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.OwnerID, itemsJSON, o.TotalAmount, o.ShippingFee, discountJSON,
		o.Currency, o.PaymentMethod, o.PaymentStatus, o.Status, o.GatewayOrderID,
		o.GatewayPaymentID, o.AmountPaid, o.ReceiptID, o.ShipmentID, o.LabelURL,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order. Returns order.ErrNotFound when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := r.getOne(ctx, getOrderByIDSQL, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	return o, err
}

// GetPendingByGatewayOrderID locates a still-pending order by the gateway's
// order id, locking the row when called inside a transaction. A confirmed,
// failed or unknown order yields order.ErrInvalidOrder, which is what rejects
// replayed confirmations.
func (r *OrderRepository) GetPendingByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	o, err := r.getOne(ctx, getPendingOrderSQL, gatewayOrderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrInvalidOrder
	}
	return o, err
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := from(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// MarkPaid transitions a pending order to Paid/Processing. The conditional
// update makes double confirmation impossible even without the row lock.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, gatewayPaymentID string, amountPaid decimal.Decimal) error {
	tag, err := from(ctx, r.pool).Exec(ctx, markOrderPaidSQL, id, gatewayPaymentID, amountPaid)
	if err != nil {
		return fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInvalidOrder
	}
	return nil
}

// SetShipment records the created shipment and moves the order to Shipped.
func (r *OrderRepository) SetShipment(ctx context.Context, id, shipmentID, labelURL string) error {
	tag, err := from(ctx, r.pool).Exec(ctx, setOrderShipmentSQL, id, shipmentID, labelURL)
	if err != nil {
		return fmt.Errorf("setting shipment for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the fulfilment status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	tag, err := from(ctx, r.pool).Exec(ctx, updateOrderStatusSQL, id, status)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Delete removes the order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := from(ctx, r.pool).Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's orders, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	rows, err := from(ctx, r.pool).Query(ctx, listOrdersByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", ownerID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	rows, err := from(ctx, r.pool).Query(ctx, listAllOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		itemsJSON    []byte
		discountJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &itemsJSON, &o.TotalAmount, &o.ShippingFee, &discountJSON,
		&o.Currency, &o.PaymentMethod, &o.PaymentStatus, &o.Status, &o.GatewayOrderID,
		&o.GatewayPaymentID, &o.AmountPaid, &o.ReceiptID, &o.ShipmentID, &o.LabelURL,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if len(discountJSON) > 0 {
		o.Discount = &order.DiscountSnapshot{}
		if err := json.Unmarshal(discountJSON, o.Discount); err != nil {
			return o, fmt.Errorf("unmarshaling order discount: %w", err)
		}
	}
	return o, nil
}
