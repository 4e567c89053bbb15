package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "ORDERS_TABLE", "CURRENCY", "GENERIC_PRODUCT_LABEL", "SHIPPING_FLAT_RATE",
		"RATE_LIMIT_PER_MINUTE", "SMTP_PORT", "WEBHOOK_EVENT_TTL", "STORE_BASE_URL", "CORS_ORIGINS", "SHIPPING_COUNTRIES"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.OrdersTable != "orders" || cfg.Currency != "usd" || cfg.GenericLabel != "Cologne" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ShippingFlatRate.String() != "5" {
		t.Fatalf("expected flat rate 5, got %s", cfg.ShippingFlatRate)
	}
	if cfg.RateLimitPerMinute != 10 || cfg.SMTPPort != 587 || cfg.WebhookEventTTL != 48*time.Hour {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("CORS origins should default to store url, got %v", cfg.CORSOrigins)
	}
	if len(cfg.ShippingCountries) != 1 || cfg.ShippingCountries[0] != "US" {
		t.Fatalf("unexpected shipping countries: %v", cfg.ShippingCountries)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BASE_URL", "https://shop.example.com/")
	t.Setenv("CURRENCY", "EUR")
	t.Setenv("SHIPPING_COUNTRIES", "US, CA ,")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBaseURL != "https://shop.example.com" {
		t.Fatalf("trailing slash not trimmed: %s", cfg.StoreBaseURL)
	}
	if cfg.Currency != "eur" {
		t.Fatalf("currency not lowercased: %s", cfg.Currency)
	}
	if len(cfg.ShippingCountries) != 2 || cfg.ShippingCountries[1] != "CA" {
		t.Fatalf("unexpected countries: %v", cfg.ShippingCountries)
	}
	if cfg.RateLimitPerMinute != 3 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-numeric rate limit")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing stripe keys to fail validation")
	}

	cfg.StripeSecretKey = "sk_test_123"
	cfg.StripeWebhookSecret = "whsec_123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
