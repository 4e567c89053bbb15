// Package notify sends the transactional emails of the order flow, at most once
// per order and email kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

const sendTimeout = 15 * time.Second

// EmailActionResponse is the result of a send attempt. It is returned instead of
// an error so callers at the HTTP boundary can pass it through unchanged.
type EmailActionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// OrderLookup is the part of the order store the dispatcher needs.
type OrderLookup interface {
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	ClaimEmail(ctx context.Context, orderID string, kind orders.EmailKind) error
	ReleaseEmail(ctx context.Context, orderID string, kind orders.EmailKind) error
}

// Dispatcher renders and sends order emails.
type Dispatcher struct {
	orders   OrderLookup
	sender   Sender
	from     string
	storeURL string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store OrderLookup, sender Sender, from, storeURL string) *Dispatcher {
	return &Dispatcher{
		orders:   store,
		sender:   sender,
		from:     from,
		storeURL: storeURL,
	}
}

// SendOrderConfirmationEmailByReference sends the order confirmation once.
func (d *Dispatcher) SendOrderConfirmationEmailByReference(ctx context.Context, reference string) EmailActionResponse {
	return d.send(ctx, reference, orders.EmailConfirmation)
}

// SendShippingConfirmationEmailByReference sends the shipping confirmation once.
func (d *Dispatcher) SendShippingConfirmationEmailByReference(ctx context.Context, reference string) EmailActionResponse {
	return d.send(ctx, reference, orders.EmailShipping)
}

// Send dispatches by kind.
func (d *Dispatcher) Send(ctx context.Context, reference string, kind orders.EmailKind) EmailActionResponse {
	return d.send(ctx, reference, kind)
}

func (d *Dispatcher) send(ctx context.Context, reference string, kind orders.EmailKind) (resp EmailActionResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] ref=%s kind=%s panic: %v", reference, kind, r)
			resp = failure(apierr.CodeEmailFailed, fmt.Sprintf("unexpected failure sending %s email", kind))
		}
	}()

	if reference == "" {
		return failure(apierr.CodeValidation, "order reference is required")
	}

	o, err := d.orders.GetByReference(ctx, reference)
	if err != nil {
		log.Printf("[notify] ref=%s lookup failed: %v", reference, err)
		return failure(apierr.CodeEmailFailed, "could not load order")
	}
	if o == nil {
		return failure(apierr.CodeOrderNotFound, fmt.Sprintf("order %s not found", reference))
	}
	if o.CustomerEmail == "" {
		return failure(apierr.CodeMissingEmail, "order has no customer email")
	}

	subject, html, err := render(kind, o, d.storeURL)
	if err != nil {
		log.Printf("[notify] ref=%s %v", reference, err)
		return failure(apierr.CodeEmailFailed, "could not render email")
	}

	if err := d.orders.ClaimEmail(ctx, o.OrderID, kind); err != nil {
		if errors.Is(err, orders.ErrAlreadyClaimed) {
			log.Printf("[notify] ref=%s kind=%s already sent, skipping", reference, kind)
			return EmailActionResponse{Success: true, Message: fmt.Sprintf("%s email already sent", kind)}
		}
		log.Printf("[notify] ref=%s kind=%s claim failed: %v", reference, kind, err)
		return failure(apierr.CodeEmailFailed, "could not record email send")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err = d.sender.Send(sendCtx, Message{
		From:    d.from,
		To:      o.CustomerEmail,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		log.Printf("[notify] ref=%s kind=%s send failed: %v", reference, kind, err)
		if rerr := d.orders.ReleaseEmail(context.WithoutCancel(ctx), o.OrderID, kind); rerr != nil {
			log.Printf("[notify] ref=%s kind=%s release failed, email will not be retried: %v", reference, kind, rerr)
		}
		return failure(apierr.CodeEmailFailed, fmt.Sprintf("failed to send %s email", kind))
	}

	log.Printf("[notify] ref=%s kind=%s sent to %s", reference, kind, o.CustomerEmail)
	return EmailActionResponse{Success: true, Message: fmt.Sprintf("%s email sent", kind)}
}

func failure(code, msg string) EmailActionResponse {
	return EmailActionResponse{Success: false, Error: msg, ErrorCode: code}
}
