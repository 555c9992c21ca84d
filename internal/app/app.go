// Package app wires configuration, storage, domain services, and the HTTP
// server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vastramart/backend/internal/api"
	"github.com/vastramart/backend/internal/domain/cart"
	"github.com/vastramart/backend/internal/domain/order"
	"github.com/vastramart/backend/internal/notify"
	"github.com/vastramart/backend/internal/payment"
	"github.com/vastramart/backend/internal/repository"
	"github.com/vastramart/backend/internal/shipment"
	"github.com/vastramart/backend/pkg/health"
	"github.com/vastramart/backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricingCfg, err := cfg.PricingPolicy()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabaseCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	txm := repository.NewTxManager(pool)
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	cartRepo := repository.NewCartRepository(pool, txm)
	orderRepo := repository.NewOrderRepository(pool)
	alertRepo := repository.NewAlertRepository(pool)

	// External service clients.
	gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret,
		&http.Client{Timeout: cfg.Payment.Timeout})
	dispatcher := shipment.NewClient(cfg.Shipping.BaseURL, cfg.Shipping.Email, cfg.Shipping.Password,
		&http.Client{Timeout: cfg.Shipping.Timeout})

	// Notification queue.
	queue := notify.NewQueue(notify.NewLogSender(lg.Named("notify")), cfg.Notify.BufferSize, lg)
	queue.Start(ctx, cfg.Notify.Workers)
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Error("notify queue close", zap.Error(err))
		}
	}()

	// Domain services.
	cartService := cart.NewService(cartRepo, productRepo, couponRepo, pricingCfg)
	orderService := order.NewService(order.Deps{
		Orders:        orderRepo,
		Carts:         cartRepo,
		Products:      productRepo,
		Coupons:       couponRepo,
		Gateway:       gateway,
		Shipments:     dispatcher,
		Notifier:      queue,
		Alerts:        alertRepo,
		Tx:            txm,
		Pricing:       pricingCfg,
		WebhookSecret: []byte(cfg.Payment.WebhookSecret),
		Currency:      cfg.Payment.Currency,
	})

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	handler := api.NewHandler(productRepo, couponRepo, cartService, orderService, alertRepo, cfg.AdminKey)
	handler.Register(mux)

	rateLimit, stopRateLimit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		RPS:   cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	})
	defer stopRateLimit()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-User-ID", "X-Admin-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			rateLimit,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("vastramart-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
