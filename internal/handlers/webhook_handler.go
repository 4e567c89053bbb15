package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/reconcile"
)

const maxWebhookBody = 64 << 10

// reconcile errors that are acknowledged instead of retried
var permanent = map[string]bool{
	apierr.CodeOrderNotFound: true,
	apierr.CodeConflict:      true,
}

func stripeWebhook(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		payload, err := c.GetRawData()
		if err != nil {
			writeError(c, apierr.Validation("unreadable body"))
			return
		}

		ev, err := d.Gateway.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			log.Printf("[webhook] rejected: %v", err)
			if errors.Is(err, gateway.ErrInvalidSignature) {
				writeError(c, apierr.Validation("invalid signature"))
				return
			}
			writeError(c, apierr.Validation("invalid payload"))
			return
		}

		if !handled(ev) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		s := ev.Session
		if s.ClientReferenceID == "" {
			log.Printf("[webhook] event=%s session=%s has no order reference, ignoring", ev.ID, s.ID)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		outcome, err := d.Events.Begin(ctx, ev.ID, ev.Type, s.ClientReferenceID)
		if err != nil {
			writeError(c, err)
			return
		}
		switch outcome {
		case idempotency.AlreadyDone:
			log.Printf("[webhook] event=%s already processed", ev.ID)
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		case idempotency.Busy:
			// non-2xx makes the processor redeliver later
			writeError(c, apierr.Conflict(fmt.Sprintf("event %s is being processed", ev.ID)))
			return
		}

		req := reconcile.Request{
			OrderReference: s.ClientReferenceID,
			SessionID:      s.ID,
			Email:          s.CustomerEmail,
			Trigger:        reconcile.TriggerWebhook,
		}
		if s.Paid() {
			req.Target = orders.StatusProcessing
		}

		res, err := d.Reconciler.Reconcile(ctx, req)
		if err != nil {
			var apiErr *apierr.APIError
			if errors.As(err, &apiErr) && permanent[apiErr.Code] {
				// redelivery cannot change the outcome
				log.Printf("[webhook] event=%s ref=%s session=%s not applied: %s", ev.ID, s.ClientReferenceID, s.ID, apiErr.Message)
				markDone(c, d, ev.ID)
				c.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			if mfErr := d.Events.MarkFailed(ctx, ev.ID, err.Error()); mfErr != nil {
				log.Printf("[webhook] event=%s mark failed: %v", ev.ID, mfErr)
			}
			writeError(c, err)
			return
		}

		log.Printf("[webhook] event=%s ref=%s session=%s status=%s changed=%t", ev.ID, s.ClientReferenceID, s.ID, res.Order.Status, res.Changed)
		markDone(c, d, ev.ID)
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func handled(ev *gateway.Event) bool {
	if ev.Session == nil {
		return false
	}
	return ev.Type == gateway.EventCheckoutCompleted || ev.Type == gateway.EventCheckoutAsyncPaymentSucceeded
}

func markDone(c *gin.Context, d Deps, eventID string) {
	if err := d.Events.MarkDone(c.Request.Context(), eventID); err != nil {
		log.Printf("[webhook] event=%s mark done: %v", eventID, err)
	}
}
