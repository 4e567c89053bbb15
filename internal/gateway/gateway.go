// Package gateway is the boundary to the external payment processor.
package gateway

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when the processor has no session with the given id.
var ErrSessionNotFound = errors.New("payment session not found")

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Payment statuses reported on a session.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Event types the service reacts to.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// Gateway is the subset of the payment processor the order flow uses.
type Gateway interface {
	CreateSession(ctx context.Context, params SessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*Session, error)
	ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// LineItemParams describes one line of a new session. UnitAmount is in the
// currency's minor unit.
type LineItemParams struct {
	Name       string
	UnitAmount int64
	Quantity   int64
	Image      string
	Metadata   map[string]string
}

// SessionParams describes a hosted checkout session.
type SessionParams struct {
	OrderReference      string
	CustomerEmail       string
	Currency            string
	SuccessURL          string
	CancelURL           string
	LineItems           []LineItemParams
	ShippingCountries   []string // non-empty enables address collection
	AllowPromotionCodes bool
}

// Session is the processor's view of a checkout session.
type Session struct {
	ID                string
	URL               string
	ClientReferenceID string
	CustomerEmail     string
	PaymentStatus     string
	AmountTotal       int64
	Currency          string
}

// Paid reports whether the session no longer awaits payment.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// LineItem is one line as recorded by the processor.
type LineItem struct {
	Description string
	Quantity    int64
	AmountTotal int64
	Currency    string
}

// Event is a verified webhook event. Session is set for checkout.session.* events.
type Event struct {
	ID      string
	Type    string
	Session *Session
}
