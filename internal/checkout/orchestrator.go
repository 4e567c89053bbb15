// Package checkout turns a cart into a pending order and a hosted payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/codec"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultRetryDelay     = time.Second
	sessionAttempts       = 2
	referenceAttempts     = 3

	// ShippingItemName is the label of the flat-rate shipping line.
	ShippingItemName = "Shipping"
)

// Config holds storefront settings used to build sessions.
type Config struct {
	StoreBaseURL      string
	Currency          string
	GenericLabel      string
	ShippingFlatRate  decimal.Decimal
	ShippingCountries []string
	AttemptTimeout    time.Duration
	RetryDelay        time.Duration
}

// Request is a validated cart.
type Request struct {
	Items         []orders.OrderItem
	CustomerEmail string
}

// Response is returned to the storefront, which redirects to URL.
type Response struct {
	SessionID      string `json:"sessionId"`
	URL            string `json:"url"`
	OrderReference string `json:"orderReference"`
}

// OrderCreator persists new orders.
type OrderCreator interface {
	Create(ctx context.Context, o *orders.Order) error
}

// Orchestrator runs checkout.
type Orchestrator struct {
	orders  OrderCreator
	gateway gateway.Gateway
	metrics *aws.Metrics
	cfg     Config

	nowFunc      func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	newReference func(now time.Time) string
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(store OrderCreator, gw gateway.Gateway, metrics *aws.Metrics, cfg Config) *Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.GenericLabel == "" {
		cfg.GenericLabel = codec.DefaultLabel
	}
	return &Orchestrator{
		orders:       store,
		gateway:      gw,
		metrics:      metrics,
		cfg:          cfg,
		nowFunc:      time.Now,
		sleep:        sleepCtx,
		newReference: orders.NewReference,
	}
}

// Checkout persists a pending order (best effort) and creates the payment
// session. Persistence failures are logged and do not block payment.
func (c *Orchestrator) Checkout(ctx context.Context, req Request) (*Response, error) {
	total, err := validate(req)
	if err != nil {
		return nil, err
	}

	order := c.persist(ctx, req, total)

	params, err := c.sessionParams(order, req.CustomerEmail)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= sessionAttempts; attempt++ {
		start := c.nowFunc()
		actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		s, err := c.gateway.CreateSession(actx, params)
		cancel()
		if err == nil {
			log.Printf("[checkout] ref=%s session=%s created total=%s", order.OrderReference, s.ID, total.StringFixed(2))
			c.metrics.Count(ctx, "CheckoutCreated", 1)
			return &Response{SessionID: s.ID, URL: s.URL, OrderReference: order.OrderReference}, nil
		}

		lastErr = err
		log.Printf("[checkout] ref=%s attempt=%d create session failed after %s: %v", order.OrderReference, attempt, c.nowFunc().Sub(start).Round(time.Millisecond), err)
		c.metrics.Count(ctx, "CheckoutGatewayFailure", 1)
		if attempt < sessionAttempts {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	return nil, apierr.CheckoutFailed(lastErr)
}

func validate(req Request) (decimal.Decimal, error) {
	if len(req.Items) == 0 {
		return decimal.Zero, apierr.Validation("cart is empty")
	}
	total := decimal.Zero
	for i, it := range req.Items {
		switch {
		case it.ID == "":
			return decimal.Zero, apierr.Validation(fmt.Sprintf("items[%d]: id is required", i))
		case it.Name == "":
			return decimal.Zero, apierr.Validation(fmt.Sprintf("items[%d]: name is required", i))
		case it.Quantity <= 0:
			return decimal.Zero, apierr.Validation(fmt.Sprintf("items[%d]: quantity must be positive", i))
		case it.Price < 0:
			return decimal.Zero, apierr.Validation(fmt.Sprintf("items[%d]: price must not be negative", i))
		}
		total = total.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, nil
}

// persist builds the order and stores it, drawing a new reference on collision.
// The returned order is usable even when nothing was stored.
func (c *Orchestrator) persist(ctx context.Context, req Request, total decimal.Decimal) *orders.Order {
	var order *orders.Order
	for attempt := 1; attempt <= referenceAttempts; attempt++ {
		ref := c.newReference(c.nowFunc())
		mapping, items := codec.BuildMapping(req.Items, c.cfg.GenericLabel, codec.OrderCode(ref))
		order = &orders.Order{
			OrderReference: ref,
			Items:          items,
			TotalAmount:    total.InexactFloat64(),
			Status:         orders.StatusPending,
			ProductMapping: mapping,
			CustomerEmail:  req.CustomerEmail,
		}

		err := c.orders.Create(ctx, order)
		if err == nil {
			return order
		}
		if errors.Is(err, orders.ErrDuplicateReference) {
			log.Printf("[checkout] ref=%s already taken, drawing a new reference", ref)
			continue
		}
		log.Printf("[checkout] %s ref=%s order not stored, continuing to payment: %v", apierr.CodePersistenceDegraded, ref, err)
		c.metrics.Count(ctx, "CheckoutPersistenceDegraded", 1)
		return order
	}
	log.Printf("[checkout] %s ref=%s no free reference after %d attempts, continuing to payment", apierr.CodePersistenceDegraded, order.OrderReference, referenceAttempts)
	c.metrics.Count(ctx, "CheckoutPersistenceDegraded", 1)
	return order
}

func (c *Orchestrator) sessionParams(o *orders.Order, email string) (gateway.SessionParams, error) {
	ref := url.QueryEscape(o.OrderReference)
	p := gateway.SessionParams{
		OrderReference:      o.OrderReference,
		CustomerEmail:       email,
		Currency:            c.cfg.Currency,
		SuccessURL:          c.cfg.StoreBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}&order_ref=" + ref,
		CancelURL:           c.cfg.StoreBaseURL + "/cart?canceled=true&order_ref=" + ref,
		AllowPromotionCodes: true,
	}

	needsShipping := false
	for _, it := range o.Items {
		p.LineItems = append(p.LineItems, gateway.LineItemParams{
			Name:       it.Metadata.EncodedName,
			UnitAmount: minorUnits(decimal.NewFromFloat(it.Price)),
			Quantity:   int64(it.Quantity),
			Image:      it.Image,
			Metadata: map[string]string{
				"ref_code":        it.Metadata.RefCode,
				"order_reference": o.OrderReference,
			},
		})
		if it.Metadata.RequiresShipping() {
			needsShipping = true
		}
	}

	if needsShipping {
		if len(c.cfg.ShippingCountries) == 0 {
			return p, apierr.Internal(errors.New("shipping required but no shipping countries configured"))
		}
		p.ShippingCountries = c.cfg.ShippingCountries
		if c.cfg.ShippingFlatRate.IsPositive() {
			p.LineItems = append(p.LineItems, gateway.LineItemParams{
				Name:       ShippingItemName,
				UnitAmount: minorUnits(c.cfg.ShippingFlatRate),
				Quantity:   1,
			})
		}
	}
	return p, nil
}

// minorUnits converts an amount to cents, rounding half away from zero.
func minorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShippingLine reports whether a gateway line item is the flat-rate shipping line.
func IsShippingLine(description string) bool {
	return strings.EqualFold(description, ShippingItemName)
}
