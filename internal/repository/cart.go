package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/cart"
)

const (
	getCartSQL = `SELECT owner_id, coupon_rule_id, coupon_code, coupon_percentage,
			coupon_max_discount, coupon_applied_at, gross_total, net_total, shipping_fee, updated_at
		FROM carts WHERE owner_id = $1`

	getCartItemsSQL = `SELECT product_id, quantity, unit_price, product_name
		FROM cart_items WHERE owner_id = $1 ORDER BY added_at, product_id`

	upsertCartSQL = `INSERT INTO carts (owner_id, coupon_rule_id, coupon_code, coupon_percentage,
			coupon_max_discount, coupon_applied_at, gross_total, net_total, shipping_fee, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner_id) DO UPDATE SET
			coupon_rule_id = EXCLUDED.coupon_rule_id,
			coupon_code = EXCLUDED.coupon_code,
			coupon_percentage = EXCLUDED.coupon_percentage,
			coupon_max_discount = EXCLUDED.coupon_max_discount,
			coupon_applied_at = EXCLUDED.coupon_applied_at,
			gross_total = EXCLUDED.gross_total,
			net_total = EXCLUDED.net_total,
			shipping_fee = EXCLUDED.shipping_fee,
			updated_at = EXCLUDED.updated_at`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE owner_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (owner_id, product_id, quantity, unit_price, product_name)
		VALUES ($1, $2, $3, $4, $5)`

	deleteCartSQL = `DELETE FROM carts WHERE owner_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. A cart is
// stored as a header row plus one row per line item.
type CartRepository struct {
	pool *pgxpool.Pool
	txm  *TxManager
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool, txm *TxManager) *CartRepository {
	return &CartRepository{pool: pool, txm: txm}
}

// Get loads the owner's cart with its items. Returns cart.ErrNotFound when
// the owner has no cart.
func (r *CartRepository) Get(ctx context.Context, ownerID string) (*cart.Cart, error) {
	q := from(ctx, r.pool)

	rows, err := q.Query(ctx, getCartSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting cart %q: %w", ownerID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart %q: %w", ownerID, err)
	}

	itemRows, err := q.Query(ctx, getCartItemsSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting cart items %q: %w", ownerID, err)
	}
	c.Items, err = pgx.CollectRows(itemRows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("getting cart items %q: %w", ownerID, err)
	}
	return &c, nil
}

// Save writes the full cart state: the header is upserted and the item rows
// replaced wholesale. The write runs in a transaction, either its own or the
// caller's ambient one.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	return r.txm.InTx(ctx, func(ctx context.Context) error {
		q := from(ctx, r.pool)

		var (
			ruleID, code *string
			pct, maxDisc *decimal.Decimal
			appliedAt    *time.Time
		)
		if d := c.AppliedDiscount; d != nil {
			ruleID, code = &d.RuleID, &d.Code
			pct, maxDisc = &d.DiscountPercentage, &d.MaxDiscount
			appliedAt = &d.AppliedAt
		}

		if _, err := q.Exec(ctx, upsertCartSQL,
			c.OwnerID, ruleID, code, pct, maxDisc, appliedAt,
			c.GrossTotal, c.NetTotal, c.ShippingFee, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("saving cart %q: %w", c.OwnerID, err)
		}

		if _, err := q.Exec(ctx, deleteCartItemsSQL, c.OwnerID); err != nil {
			return fmt.Errorf("clearing cart items %q: %w", c.OwnerID, err)
		}
		for _, item := range c.Items {
			if _, err := q.Exec(ctx, insertCartItemSQL,
				c.OwnerID, item.ProductID, item.Quantity, item.UnitPrice, item.ProductName,
			); err != nil {
				return fmt.Errorf("saving cart item %q/%q: %w", c.OwnerID, item.ProductID, err)
			}
		}
		return nil
	})
}

// Delete removes the cart and, via the cascade, its items.
func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	if _, err := from(ctx, r.pool).Exec(ctx, deleteCartSQL, ownerID); err != nil {
		return fmt.Errorf("deleting cart %q: %w", ownerID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c            cart.Cart
		ruleID, code *string
		pct, maxDisc *decimal.Decimal
		appliedAt    *time.Time
	)
	err := row.Scan(
		&c.OwnerID, &ruleID, &code, &pct, &maxDisc, &appliedAt,
		&c.GrossTotal, &c.NetTotal, &c.ShippingFee, &c.UpdatedAt,
	)
	if err == nil && ruleID != nil {
		c.AppliedDiscount = &cart.AppliedDiscount{
			RuleID:             *ruleID,
			Code:               *code,
			DiscountPercentage: *pct,
			MaxDiscount:        *maxDisc,
			AppliedAt:          *appliedAt,
		}
	}
	return c, err
}

func scanCartItem(row pgx.CollectableRow) (cart.LineItem, error) {
	var (
		item cart.LineItem
		qty  int32
	)
	err := row.Scan(&item.ProductID, &qty, &item.UnitPrice, &item.ProductName)
	item.Quantity = int(qty)
	return item, err
}
