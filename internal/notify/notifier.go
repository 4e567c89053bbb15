package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// Notifier requests an order email. Implementations may send inline or hand
// the work to a queue.
type Notifier interface {
	Notify(ctx context.Context, reference string, kind orders.EmailKind) error
}

// Job is the queued form of a notification.
type Job struct {
	OrderReference string           `json:"order_reference"`
	Kind           orders.EmailKind `json:"kind"`
}

// Validate checks a decoded job.
func (j Job) Validate() error {
	if j.OrderReference == "" {
		return errors.New("order_reference is required")
	}
	if j.Kind != orders.EmailConfirmation && j.Kind != orders.EmailShipping {
		return fmt.Errorf("unknown email kind %q", j.Kind)
	}
	return nil
}

// InlineNotifier sends immediately through a Dispatcher.
type InlineNotifier struct {
	Dispatcher *Dispatcher
}

func (n InlineNotifier) Notify(ctx context.Context, reference string, kind orders.EmailKind) error {
	resp := n.Dispatcher.Send(ctx, reference, kind)
	if !resp.Success {
		return fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	return nil
}

// JSONPublisher sends a JSON payload to a queue.
type JSONPublisher interface {
	SendJSON(ctx context.Context, payload interface{}, attributes map[string]string) error
}

// QueueNotifier enqueues a Job for the email worker.
type QueueNotifier struct {
	Publisher JSONPublisher
}

func (n QueueNotifier) Notify(ctx context.Context, reference string, kind orders.EmailKind) error {
	job := Job{OrderReference: reference, Kind: kind}
	if err := job.Validate(); err != nil {
		return err
	}
	if err := n.Publisher.SendJSON(ctx, job, map[string]string{"kind": string(kind)}); err != nil {
		return fmt.Errorf("enqueue %s email for %s: %w", kind, reference, err)
	}
	return nil
}
