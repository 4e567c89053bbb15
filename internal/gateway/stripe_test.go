package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

const testSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	payload := fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": "order_123_abc",
			"payment_status": "paid",
			"amount_total": 4500,
			"currency": "usd",
			"customer_details": {"email": "a@b.com"}
		}}
	}`, stripe.APIVersion)
	header, body := signed(t, payload)

	g := &Stripe{webhookSecret: testSecret}
	ev, err := g.ParseWebhook(body, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	s := ev.Session
	if s == nil {
		t.Fatalf("expected session")
	}
	if s.ID != "cs_test_1" || s.ClientReferenceID != "order_123_abc" || s.CustomerEmail != "a@b.com" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if !s.Paid() || s.AmountTotal != 4500 {
		t.Fatalf("unexpected payment fields: %+v", s)
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload := fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{}}}`, stripe.APIVersion)
	_, body := signed(t, payload)

	g := &Stripe{webhookSecret: testSecret}
	_, err := g.ParseWebhook(body, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseWebhook_OtherEventHasNoSession(t *testing.T) {
	payload := fmt.Sprintf(`{"id":"evt_3","object":"event","api_version":%q,"type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`, stripe.APIVersion)
	header, body := signed(t, payload)

	ev, err := (&Stripe{webhookSecret: testSecret}).ParseWebhook(body, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Session != nil {
		t.Fatalf("expected no session for %s", ev.Type)
	}
}

func TestToSession_PrefersCustomerDetailsEmail(t *testing.T) {
	s := toSession(&stripe.CheckoutSession{
		ID:              "cs_1",
		CustomerEmail:   "prefill@b.com",
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "entered@b.com"},
		PaymentStatus:   stripe.CheckoutSessionPaymentStatusUnpaid,
	})
	if s.CustomerEmail != "entered@b.com" {
		t.Fatalf("expected entered email, got %s", s.CustomerEmail)
	}
	if s.Paid() {
		t.Fatalf("unpaid session reported as paid")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("wrapped: %w", &stripe.Error{HTTPStatusCode: 404})) {
		t.Fatalf("expected 404 stripe error to be not found")
	}
	if isNotFound(&stripe.Error{HTTPStatusCode: 500}) || isNotFound(errors.New("other")) {
		t.Fatalf("unexpected not found")
	}
}

func TestNewSessionParams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	params := newSessionParams(ctx, SessionParams{
		OrderReference:    "order_1_abc",
		CustomerEmail:     "a@b.com",
		Currency:          "usd",
		SuccessURL:        "https://shop.test/success",
		CancelURL:         "https://shop.test/cart",
		ShippingCountries: []string{"US"},
		LineItems: []LineItemParams{
			{Name: "Cologne (abc1)", UnitAmount: 2000, Quantity: 2, Image: "http://insecure.test/x.png"},
		},
	})
	if params.Context != ctx {
		t.Fatalf("request context not propagated")
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "checkout-session-order_1_abc" {
		t.Fatalf("idempotency key = %v", params.IdempotencyKey)
	}
	if *params.ClientReferenceID != "order_1_abc" || *params.CustomerEmail != "a@b.com" {
		t.Fatalf("unexpected params: %+v", params)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].PriceData.UnitAmount != 2000 {
		t.Fatalf("line items: %+v", params.LineItems)
	}
	if len(params.LineItems[0].PriceData.ProductData.Images) != 0 {
		t.Fatalf("non-https image should be skipped")
	}
	if params.ShippingAddressCollection == nil {
		t.Fatalf("shipping address collection not enabled")
	}
}
