package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vastramart/backend/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_percentage, max_discount, min_cart_value,
		valid_from, valid_until, usage_limit, times_used, active, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`

	// The WHERE clause re-checks the limit so that two concurrent
	// confirmations cannot both consume the final use. Consuming the last
	// slot also deactivates the rule.
	consumeCouponUseSQL = `UPDATE coupons
		SET times_used = times_used + 1,
		    active = times_used + 1 < usage_limit
		WHERE id = $1 AND active = TRUE AND times_used < usage_limit`

	createCouponSQL = `INSERT INTO coupons (id, code, discount_percentage, max_discount, min_cart_value,
			valid_from, valid_until, usage_limit, times_used, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (id, code, discount_percentage, max_discount, min_cart_value,
			valid_from, valid_until, usage_limit, times_used, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. Returns
// coupon.ErrNotFound when no such coupon exists. Inactive and exhausted
// coupons are still returned; eligibility is the domain layer's call.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its identifier.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Rule, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql, arg string) (*coupon.Rule, error) {
	rows, err := from(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &rule, nil
}

// ConsumeUse atomically increments the usage counter, failing with
// coupon.ErrUsageLimitReached when the coupon is inactive or already at its
// limit. The conditional update is what makes concurrent confirmations safe:
// the loser of the race matches zero rows.
func (r *CouponRepository) ConsumeUse(ctx context.Context, id string) error {
	tag, err := from(ctx, r.pool).Exec(ctx, consumeCouponUseSQL, id)
	if err != nil {
		return fmt.Errorf("consuming use of coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// Create persists a new coupon rule.
func (r *CouponRepository) Create(ctx context.Context, rule *coupon.Rule) error {
	_, err := from(ctx, r.pool).Exec(ctx, createCouponSQL,
		rule.ID, rule.Code, rule.DiscountPercentage, rule.MaxDiscount, rule.MinCartValue,
		rule.ValidFrom, rule.ValidUntil, rule.UsageLimit, rule.TimesUsed, rule.Active, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", rule.Code, err)
	}
	return nil
}

// Upsert inserts the rule, leaving an existing row with the same code
// untouched. Used by bulk ingest, which must be rerunnable.
func (r *CouponRepository) Upsert(ctx context.Context, rule *coupon.Rule) error {
	_, err := from(ctx, r.pool).Exec(ctx, upsertCouponSQL,
		rule.ID, rule.Code, rule.DiscountPercentage, rule.MaxDiscount, rule.MinCartValue,
		rule.ValidFrom, rule.ValidUntil, rule.UsageLimit, rule.TimesUsed, rule.Active, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rule.Code, err)
	}
	return nil
}

// List returns all coupon rules, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Rule, error) {
	rows, err := from(ctx, r.pool).Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCouponRule)
}

// Delete removes a coupon rule. Returns coupon.ErrNotFound when no row
// matched.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := from(ctx, r.pool).Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule       coupon.Rule
		usageLimit int32
		timesUsed  int32
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.DiscountPercentage, &rule.MaxDiscount, &rule.MinCartValue,
		&rule.ValidFrom, &rule.ValidUntil, &usageLimit, &timesUsed, &rule.Active, &rule.CreatedAt,
	)
	rule.UsageLimit = int(usageLimit)
	rule.TimesUsed = int(timesUsed)
	return rule, err
}
