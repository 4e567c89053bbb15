// Package config loads service configuration from an optional .env file and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all service configuration.
type Config struct {
	// Server
	Port        string
	RunLocal    bool
	CORSOrigins []string

	// AWS resources
	OrdersTable      string
	ProductsTable    string
	IdempotencyTable string
	EmailQueueURL    string // empty: send email inline
	MetricsNamespace string

	// Payment gateway
	StripeSecretKey     string
	StripeWebhookSecret string

	// Checkout
	StoreBaseURL      string
	Currency          string
	GenericLabel      string
	ShippingFlatRate  decimal.Decimal
	ShippingCountries []string

	RateLimitPerMinute int
	RedisAddr          string // empty: in-memory limiter
	RedisPassword      string

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	WebhookEventTTL time.Duration
}

// Load reads .env (if present) and then the environment. It does not validate;
// call Validate before using payment settings.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("[config] no .env file loaded, using process environment")
	}

	cfg := &Config{
		Port:                envOrDefault("PORT", "8080"),
		RunLocal:            os.Getenv("RUN_LOCAL") == "true",
		OrdersTable:         envOrDefault("ORDERS_TABLE", "orders"),
		ProductsTable:       envOrDefault("PRODUCTS_TABLE", "products"),
		IdempotencyTable:    envOrDefault("IDEMPOTENCY_TABLE", "webhook-events"),
		EmailQueueURL:       os.Getenv("EMAIL_QUEUE_URL"),
		MetricsNamespace:    envOrDefault("METRICS_NAMESPACE", "Storefront/Orders"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StoreBaseURL:        strings.TrimRight(envOrDefault("STORE_BASE_URL", "http://localhost:3000"), "/"),
		Currency:            strings.ToLower(envOrDefault("CURRENCY", "usd")),
		GenericLabel:        envOrDefault("GENERIC_PRODUCT_LABEL", "Cologne"),
		ShippingCountries:   splitList(envOrDefault("SHIPPING_COUNTRIES", "US")),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		EmailFrom:           envOrDefault("EMAIL_FROM", "orders@localhost"),
	}

	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		origins = cfg.StoreBaseURL
	}
	cfg.CORSOrigins = splitList(origins)

	var err error
	if cfg.ShippingFlatRate, err = decimal.NewFromString(envOrDefault("SHIPPING_FLAT_RATE", "5.00")); err != nil {
		return nil, fmt.Errorf("SHIPPING_FLAT_RATE: %w", err)
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.WebhookEventTTL, err = time.ParseDuration(envOrDefault("WEBHOOK_EVENT_TTL", "48h")); err != nil {
		return nil, fmt.Errorf("WEBHOOK_EVENT_TTL: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the API cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.ShippingFlatRate.IsNegative() {
		return errors.New("SHIPPING_FLAT_RATE must not be negative")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
