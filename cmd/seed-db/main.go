// Command seed-db loads the product catalog and a starter set of coupons
// into the database. Intended for development and demo environments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/coupon"
	"github.com/vastramart/backend/internal/domain/product"
	"github.com/vastramart/backend/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	SKU      string          `json:"sku"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, &product.Product{
			ID:       p.ID,
			Name:     p.Name,
			SKU:      p.SKU,
			Category: p.Category,
			Price:    p.Price,
			Stock:    p.Stock,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("seeding starter coupons")

	now := time.Now().UTC()
	rules := []coupon.Rule{
		{
			Code:               "WELCOME20",
			DiscountPercentage: decimal.NewFromInt(20),
			MaxDiscount:        decimal.NewFromInt(150),
			MinCartValue:       decimal.NewFromInt(500),
			ValidFrom:          now,
			ValidUntil:         now.AddDate(1, 0, 0),
			UsageLimit:         10000,
		},
		{
			Code:               "FESTIVE50",
			DiscountPercentage: decimal.NewFromInt(50),
			MaxDiscount:        decimal.NewFromInt(1000),
			MinCartValue:       decimal.NewFromInt(999),
			ValidFrom:          now,
			ValidUntil:         now.AddDate(0, 1, 0),
			UsageLimit:         500,
		},
	}

	for _, rule := range rules {
		rule.ID = uuid.NewString()
		rule.Active = true
		rule.CreatedAt = now
		if err := repo.Create(ctx, &rule); err != nil {
			slog.Warn("coupon not created, may already exist",
				slog.String("code", rule.Code), slog.String("error", err.Error()))
			continue
		}
		slog.Info("created coupon", slog.String("code", rule.Code))
	}
	return nil
}
