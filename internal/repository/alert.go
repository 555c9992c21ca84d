package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vastramart/backend/internal/domain/order"
)

const (
	createAlertSQL = `INSERT INTO admin_alerts (id, order_id, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	listAlertsSQL = `SELECT id, order_id, reason, detail, created_at
		FROM admin_alerts ORDER BY created_at DESC`
)

// Alert is a persisted operator escalation.
type Alert struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

var _ order.AlertRecorder = (*AlertRepository)(nil)

// AlertRepository persists admin alerts in PostgreSQL so escalations survive
// restarts and stay visible until an operator resolves them.
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository returns an AlertRepository that uses the given pool.
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

// Record stores an alert. The cause, when present, is flattened into the
// detail text.
func (r *AlertRepository) Record(ctx context.Context, orderID, reason string, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	_, err := from(ctx, r.pool).Exec(ctx, createAlertSQL,
		uuid.NewString(), orderID, reason, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording alert for order %q: %w", orderID, err)
	}
	return nil
}

// List returns all alerts, newest first.
func (r *AlertRepository) List(ctx context.Context) ([]Alert, error) {
	rows, err := from(ctx, r.pool).Query(ctx, listAlertsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Alert, error) {
		var a Alert
		err := row.Scan(&a.ID, &a.OrderID, &a.Reason, &a.Detail, &a.CreatedAt)
		return a, err
	})
}
