package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/ratelimit"
	"github.com/imrishuroy/go-storefront-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-storefront-orderflow/internal/stock"
)

func setupRouter(cfg *config.Config, clients *aws.AWSClients) (*gin.Engine, error) {
	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)
	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	gw := gateway.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	sender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(store, sender, cfg.EmailFrom, cfg.StoreBaseURL)

	var notifier notify.Notifier = notify.InlineNotifier{Dispatcher: dispatcher}
	if cfg.EmailQueueURL != "" {
		notifier = notify.QueueNotifier{Publisher: aws.NewPublisher(clients.SQS, cfg.EmailQueueURL)}
	}

	adjuster := stock.NewAdjuster(clients.DynamoDB, cfg.ProductsTable, store, metrics)
	orch := checkout.NewOrchestrator(store, gw, metrics, checkout.Config{
		StoreBaseURL:      cfg.StoreBaseURL,
		Currency:          cfg.Currency,
		GenericLabel:      cfg.GenericLabel,
		ShippingFlatRate:  cfg.ShippingFlatRate,
		ShippingCountries: cfg.ShippingCountries,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.RegisterRoutes(r, handlers.Deps{
		Checkout:      orch,
		Reconciler:    reconcile.New(store, adjuster, notifier, gw, metrics),
		Orders:        store,
		Events:        idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.WebhookEventTTL),
		Emails:        dispatcher,
		Gateway:       gw,
		CheckoutLimit: ratelimit.Middleware(newLimiter(cfg), time.Minute, ratelimit.ByClientIP),
	})
	return r, nil
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	if cfg.SMTPHost == "" {
		log.Printf("[config] SMTP_HOST not set, emails will be logged only")
		return notify.LogSender{}, nil
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
}

func newLimiter(cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	rdb := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	return ratelimit.NewRedisLimiter(rdb, "checkout", cfg.RateLimitPerMinute, time.Minute)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r, err := setupRouter(cfg, clients)
	if err != nil {
		log.Fatalf("failed to set up router: %v", err)
	}

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
