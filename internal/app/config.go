package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (VASTRA_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (VASTRA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AdminKey    string `usage:"Shared key for /api/admin routes; empty disables the guard" flag:"admin-key"`
	Payment     PaymentConfig
	Shipping    ShippingConfig
	Pricing     PricingConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PaymentConfig configures the payment gateway client.
type PaymentConfig struct {
	BaseURL       string        `default:"https://api.razorpay.com" usage:"Payment gateway base URL" flag:"payment-base-url"`
	KeyID         string        `usage:"Gateway key id" flag:"payment-key-id"`
	KeySecret     string        `usage:"Gateway key secret" flag:"payment-key-secret"`
	WebhookSecret string        `usage:"Shared secret for confirmation signatures" flag:"payment-webhook-secret"`
	Currency      string        `default:"INR" usage:"Charge currency"`
	Timeout       time.Duration `default:"10s" usage:"Gateway HTTP timeout"`
}

// ShippingConfig configures the logistics provider client.
type ShippingConfig struct {
	BaseURL  string        `default:"https://apiv2.shiprocket.in/v1/external" usage:"Logistics provider base URL" flag:"shipping-base-url"`
	Email    string        `usage:"Provider account email" flag:"shipping-email"`
	Password string        `usage:"Provider account password" flag:"shipping-password"`
	Timeout  time.Duration `default:"15s" usage:"Provider HTTP timeout"`
}

// PricingConfig configures the shipping fee policy.
type PricingConfig struct {
	FreeShippingThreshold string `default:"800" usage:"Net total from which shipping is free" flag:"free-shipping-threshold"`
	ShippingFee           string `default:"55" usage:"Flat shipping fee below the threshold" flag:"shipping-fee"`
}

// NotifyConfig controls the notification queue.
type NotifyConfig struct {
	Workers    int `default:"2" usage:"Notification worker count"`
	BufferSize int `default:"256" usage:"Notification queue capacity" flag:"notify-buffer"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"50" usage:"Sustained requests per second per client"`
	Burst int     `default:"100" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// PricingPolicy converts the textual fee settings into the pricing engine's
// decimal config.
func (c *Config) PricingPolicy() (pricing.Config, error) {
	threshold, err := decimal.NewFromString(c.Pricing.FreeShippingThreshold)
	if err != nil {
		return pricing.Config{}, errors.Wrap(err, "parse free shipping threshold")
	}
	fee, err := decimal.NewFromString(c.Pricing.ShippingFee)
	if err != nil {
		return pricing.Config{}, errors.Wrap(err, "parse shipping fee")
	}
	return pricing.Config{
		FreeShippingThreshold: threshold,
		FlatShippingFee:       fee,
	}, nil
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VASTRA",
		Files:     []string{"config.yaml", "/etc/vastramart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set VASTRA_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Payment.WebhookSecret == "" {
		return nil, errors.New("payment webhook secret is required: set VASTRA_PAYMENT_WEBHOOK_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's VASTRA_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
