package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Price and Stock
// are authoritative: cart lines snapshot the price at add time and are
// re-checked against this record during checkout.
type Product struct {
	ID       string
	Name     string
	SKU      string
	Price    decimal.Decimal
	Stock    int
	Category string
}

// Repository defines read operations for the product catalog. The catalog
// write path is owned by an administrative service outside this module.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
