package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

func newProcessor(cfg *config.Config, clients *aws.AWSClients) (*Processor, error) {
	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTPHost != "" {
		smtp, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
		if err != nil {
			return nil, err
		}
		sender = smtp
	}
	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	return NewProcessor(notify.NewDispatcher(store, sender, cfg.EmailFrom, cfg.StoreBaseURL)), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	p, err := newProcessor(cfg, clients)
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_reference":"order_local_abc","kind":"confirmation"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		log.Printf("local run done, %d failures", len(resp.BatchItemFailures))
		return
	}

	lambda.Start(p.Handle)
}
