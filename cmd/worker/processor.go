package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// EmailSender sends one order email and reports the result.
type EmailSender interface {
	Send(ctx context.Context, reference string, kind orders.EmailKind) notify.EmailActionResponse
}

// Processor consumes email jobs from SQS.
type Processor struct {
	emails EmailSender
}

// NewProcessor creates a new worker processor.
func NewProcessor(emails EmailSender) *Processor {
	return &Processor{emails: emails}
}

// Handle processes a batch and reports only the messages that should be
// redelivered, so one failing job does not replay the whole batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if p.processMessage(ctx, rec) == retry {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		log.Printf("[worker] %d of %d messages will be retried", n, len(ev.Records))
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) outcome {
	var job notify.Job
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		log.Printf("[worker] message=%s invalid body, dropping: %v", rec.MessageId, err)
		return dropped
	}
	if err := job.Validate(); err != nil {
		log.Printf("[worker] message=%s invalid job, dropping: %v", rec.MessageId, err)
		return dropped
	}

	res := p.emails.Send(ctx, job.OrderReference, job.Kind)
	switch {
	case res.Success:
		log.Printf("[worker] ref=%s kind=%s %s", job.OrderReference, job.Kind, res.Message)
		return processed
	case permanentCodes[res.ErrorCode]:
		log.Printf("[worker] ref=%s kind=%s dropping: %s %s", job.OrderReference, job.Kind, res.ErrorCode, res.Error)
		return dropped
	default:
		log.Printf("[worker] ref=%s kind=%s will retry: %s %s", job.OrderReference, job.Kind, res.ErrorCode, res.Error)
		return retry
	}
}
