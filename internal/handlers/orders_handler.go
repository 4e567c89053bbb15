package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/codec"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/reconcile"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

const lookupLimit = 20

// Checkouter starts a hosted checkout for a cart.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Response, error)
}

// Reconciler converges an order on the state a trigger reports.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error)
}

// OrderReader is the read side of the order store.
type OrderReader interface {
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	ListByEmail(ctx context.Context, email string, limit int32) ([]orders.Order, error)
}

// EventLedger remembers processed webhook events.
type EventLedger interface {
	Begin(ctx context.Context, eventID, eventType, orderRef string) (idempotency.Outcome, error)
	MarkDone(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, note string) error
}

// EmailActions are the server actions that (re)send order emails.
type EmailActions interface {
	SendOrderConfirmationEmailByReference(ctx context.Context, reference string) notify.EmailActionResponse
	SendShippingConfirmationEmailByReference(ctx context.Context, reference string) notify.EmailActionResponse
}

// Deps groups dependencies for the storefront routes.
type Deps struct {
	Checkout   Checkouter
	Reconciler Reconciler
	Orders     OrderReader
	Events     EventLedger
	Emails     EmailActions
	Gateway    gateway.Gateway
	// CheckoutLimit guards session creation; nil disables it.
	CheckoutLimit gin.HandlerFunc
}

// RegisterRoutes registers the storefront API.
func RegisterRoutes(r *gin.Engine, d Deps) {
	v := validation.New()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	checkoutChain := []gin.HandlerFunc{}
	if d.CheckoutLimit != nil {
		checkoutChain = append(checkoutChain, d.CheckoutLimit)
	}
	checkoutChain = append(checkoutChain, createCheckout(d, v))
	api.POST("/stripe/checkout", checkoutChain...)
	api.POST("/webhooks/stripe", stripeWebhook(d))
	api.POST("/stripe/order/status", updateStatus(d, v))
	api.GET("/stripe/order", orderBySession(d))
	api.POST("/orders/lookup", lookupOrders(d, v))

	registerActions(api, d, v)
}

func createCheckout(d Deps, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		items := make([]orders.OrderItem, 0, len(req.Items))
		for _, it := range req.Items {
			item := orders.OrderItem{
				ID:       it.ID,
				Name:     it.Name,
				Price:    it.Price,
				Quantity: it.Quantity,
				Image:    it.Image,
			}
			if it.Metadata != nil {
				item.Metadata = orders.ItemMetadata{
					Category: it.Metadata.Category,
					Type:     it.Metadata.Type,
					Size:     it.Metadata.Size,
				}
			}
			items = append(items, item)
		}

		resp, err := d.Checkout.Checkout(c.Request.Context(), checkout.Request{
			Items:         items,
			CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func updateStatus(d Deps, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.StatusUpdateRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		status := orders.Status(req.Status)
		rr := reconcile.Request{
			OrderID:   req.OrderID,
			SessionID: req.SessionID,
			Target:    status,
			Trigger:   reconcile.TriggerAdmin,
		}
		if req.SessionID != "" && status == orders.StatusProcessing {
			rr.Trigger = reconcile.TriggerSuccessPage
		}
		if req.TrackingNumber != "" {
			rr.Tracking = &orders.Tracking{Number: req.TrackingNumber, URL: req.TrackingURL, Carrier: req.Carrier}
		}

		res, err := d.Reconciler.Reconcile(c.Request.Context(), rr)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"order":            res.Order,
			"changed":          res.Changed,
			"sideEffectErrors": res.SideEffectErrors,
		})
	}
}

// OrderLine is a line of the order detail with the product name decoded.
type OrderLine struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Amount   string `json:"amount"`
}

// OrderDetail is the success-page view of a paid session.
type OrderDetail struct {
	OrderReference string      `json:"orderReference"`
	SessionID      string      `json:"sessionId"`
	Status         string      `json:"status,omitempty"`
	PaymentStatus  string      `json:"paymentStatus"`
	CustomerEmail  string      `json:"customerEmail,omitempty"`
	Currency       string      `json:"currency"`
	AmountTotal    string      `json:"amountTotal"`
	Shipping       string      `json:"shipping,omitempty"`
	Items          []OrderLine `json:"items"`
	TrackingNumber string      `json:"trackingNumber,omitempty"`
	TrackingURL    string      `json:"trackingUrl,omitempty"`
	Carrier        string      `json:"carrier,omitempty"`
}

func orderBySession(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		sessionID := strings.TrimSpace(c.Query("session_id"))
		if sessionID == "" {
			writeError(c, apierr.Validation("session_id is required"))
			return
		}

		s, err := d.Gateway.RetrieveSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gateway.ErrSessionNotFound) {
				writeError(c, apierr.NotFound("session"))
				return
			}
			writeError(c, apierr.Gateway("retrieve session", err))
			return
		}
		lines, err := d.Gateway.ListLineItems(ctx, sessionID)
		if err != nil {
			writeError(c, apierr.Gateway("list line items", err))
			return
		}

		var o *orders.Order
		if s.ClientReferenceID != "" {
			if o, err = d.Orders.GetByReference(ctx, s.ClientReferenceID); err != nil {
				writeError(c, err)
				return
			}
		}
		if o == nil {
			// checkout may have run without persisting the order
			log.Printf("[order] session=%s ref=%s no stored order, showing undecoded lines", sessionID, s.ClientReferenceID)
		}
		c.JSON(http.StatusOK, buildDetail(s, lines, o))
	}
}

func buildDetail(s *gateway.Session, lines []gateway.LineItem, o *orders.Order) OrderDetail {
	det := OrderDetail{
		OrderReference: s.ClientReferenceID,
		SessionID:      s.ID,
		PaymentStatus:  s.PaymentStatus,
		CustomerEmail:  s.CustomerEmail,
		Currency:       s.Currency,
		AmountTotal:    majorUnits(s.AmountTotal),
		Items:          make([]OrderLine, 0, len(lines)),
	}
	var mapping orders.ProductMapping
	if o != nil {
		mapping = o.ProductMapping
		det.Status = string(o.Status)
		det.TrackingNumber = o.TrackingNumber
		det.TrackingURL = o.TrackingURL
		det.Carrier = o.Carrier
		if det.CustomerEmail == "" {
			det.CustomerEmail = o.CustomerEmail
		}
	}
	for _, li := range lines {
		if checkout.IsShippingLine(li.Description) {
			det.Shipping = majorUnits(li.AmountTotal)
			continue
		}
		det.Items = append(det.Items, OrderLine{
			Name:     codec.Decode(li.Description, mapping),
			Quantity: li.Quantity,
			Amount:   majorUnits(li.AmountTotal),
		})
	}
	return det
}

func majorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func lookupOrders(d Deps, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.LookupRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		email := strings.TrimSpace(req.Email)
		ref := strings.TrimSpace(req.OrderReference)

		found := []orders.Order{}
		if ref != "" {
			o, err := d.Orders.GetByReference(ctx, ref)
			if err != nil {
				writeError(c, err)
				return
			}
			if o != nil && (email == "" || strings.EqualFold(o.CustomerEmail, email)) {
				found = append(found, *o)
			}
		} else {
			list, err := d.Orders.ListByEmail(ctx, email, lookupLimit)
			if err != nil {
				writeError(c, err)
				return
			}
			found = append(found, list...)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orders": found})
	}
}

// writeError renders err as {"error", "code"} with the status its code maps to.
func writeError(c *gin.Context, err error) {
	e := apierr.From(err)
	if e.StatusCode >= http.StatusInternalServerError {
		log.Printf("[http] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(e.StatusCode, e)
}
