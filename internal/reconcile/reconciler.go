// Package reconcile converges the payment triggers (webhook, success page) and
// operator status changes on a single order record.
//
// Status moves use compare-and-swap on the stored status, and every side effect
// is guarded by a flag persisted on the order, so any number of triggers in any
// order produce the same final state with stock applied and each email sent at
// most once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apierr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/notify"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/stock"
)

const maxCASAttempts = 5

// Trigger identifies the path that asked for reconciliation.
type Trigger string

const (
	TriggerWebhook     Trigger = "webhook"
	TriggerSuccessPage Trigger = "success_page"
	TriggerAdmin       Trigger = "admin"
)

func (t Trigger) confirmsPayment() bool {
	return t == TriggerWebhook || t == TriggerSuccessPage
}

// Request describes one reconciliation. Target may be empty to only attach the
// session and email.
type Request struct {
	OrderReference string
	OrderID        string
	SessionID      string
	Email          string
	Target         orders.Status
	Tracking       *orders.Tracking
	Trigger        Trigger
}

// Result is the outcome of Reconcile. SideEffectErrors lists failures of stock or
// email work; they never fail the call.
type Result struct {
	Order            *orders.Order `json:"order"`
	Changed          bool          `json:"changed"`
	Stock            *stock.Result `json:"stock,omitempty"`
	SideEffectErrors []string      `json:"sideEffectErrors,omitempty"`
}

// OrderStore is the part of the order store reconciliation uses.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByReference(ctx context.Context, reference string) (*orders.Order, error)
	AttachSession(ctx context.Context, orderID, sessionID, email string) (*orders.Order, error)
	UpdateEmail(ctx context.Context, orderID, email string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, expected, newStatus orders.Status, tracking *orders.Tracking) (*orders.Order, error)
}

// StockApplier applies an order's quantities to inventory at most once.
type StockApplier interface {
	ApplyOrder(ctx context.Context, o *orders.Order) (*stock.Result, error)
}

// Reconciler implements the convergence rules.
type Reconciler struct {
	orders   OrderStore
	stock    StockApplier
	notifier notify.Notifier
	gateway  gateway.Gateway
	metrics  *aws.Metrics
}

// New creates a Reconciler. metrics may be nil.
func New(store OrderStore, stockApplier StockApplier, notifier notify.Notifier, gw gateway.Gateway, metrics *aws.Metrics) *Reconciler {
	return &Reconciler{
		orders:   store,
		stock:    stockApplier,
		notifier: notifier,
		gateway:  gw,
		metrics:  metrics,
	}
}

// Reconcile resolves the order, attaches the payment session, advances the status
// if the target is ahead of the stored one, and runs the side effects that the
// trigger and the resulting status call for.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	o, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Trigger == TriggerSuccessPage {
		email, err := r.verifySession(ctx, o, req.SessionID)
		if err != nil {
			return nil, err
		}
		if req.Email == "" {
			req.Email = email
		}
	}

	if o, err = r.attach(ctx, o, req); err != nil {
		return nil, err
	}

	res := &Result{Order: o}
	if req.Target != "" {
		if res.Order, res.Changed, err = r.advance(ctx, o, req); err != nil {
			return nil, err
		}
	}
	if !res.Changed && req.Target != "" {
		log.Printf("[reconcile] ref=%s trigger=%s target=%s no-op, status is %s", o.OrderReference, req.Trigger, req.Target, res.Order.Status)
		r.metrics.Count(ctx, "ReconcileNoop", 1, "Trigger", string(req.Trigger))
	}

	if r.sideEffects(ctx, req, res) {
		if fresh, err := r.orders.Get(ctx, res.Order.OrderID); err == nil && fresh != nil {
			res.Order = fresh
		}
	}
	return res, nil
}

func validate(req Request) error {
	switch req.Trigger {
	case TriggerWebhook, TriggerSuccessPage, TriggerAdmin:
	default:
		return apierr.Validation(fmt.Sprintf("unknown trigger %q", req.Trigger))
	}
	if req.OrderReference == "" && req.OrderID == "" {
		return apierr.Validation("order reference or id is required")
	}
	if req.Target != "" && !req.Target.Valid() {
		return apierr.Validation(fmt.Sprintf("invalid status %q", req.Target))
	}
	if req.Trigger.confirmsPayment() && req.Target != "" && req.Target != orders.StatusProcessing {
		return apierr.Validation("payment triggers can only move an order to processing")
	}
	if req.Trigger == TriggerSuccessPage && req.SessionID == "" {
		return apierr.Validation("sessionId is required")
	}
	if req.Trigger == TriggerAdmin && req.Target == orders.StatusShipped && (req.Tracking == nil || req.Tracking.Number == "") {
		return apierr.Validation("trackingNumber is required when marking an order shipped")
	}
	return nil
}

// resolve looks the order up by reference first, then by store id. The id field
// also accepts a reference since callers do not always know which one they hold.
func (r *Reconciler) resolve(ctx context.Context, req Request) (*orders.Order, error) {
	lookups := []func() (*orders.Order, error){}
	if req.OrderReference != "" {
		lookups = append(lookups, func() (*orders.Order, error) { return r.orders.GetByReference(ctx, req.OrderReference) })
	}
	if req.OrderID != "" {
		lookups = append(lookups,
			func() (*orders.Order, error) { return r.orders.Get(ctx, req.OrderID) },
			func() (*orders.Order, error) { return r.orders.GetByReference(ctx, req.OrderID) },
		)
	}
	for _, lookup := range lookups {
		o, err := lookup()
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("load order: %w", err))
		}
		if o != nil {
			return o, nil
		}
	}

	key := req.OrderReference
	if key == "" {
		key = req.OrderID
	}
	return nil, apierr.OrderNotFound(key)
}

// verifySession checks that the session belongs to the order and is paid.
func (r *Reconciler) verifySession(ctx context.Context, o *orders.Order, sessionID string) (string, error) {
	s, err := r.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gateway.ErrSessionNotFound) {
			return "", apierr.NotFound("payment session")
		}
		return "", apierr.Gateway("retrieve session", err)
	}
	if s.ClientReferenceID != o.OrderReference {
		log.Printf("[reconcile] session=%s belongs to %q, not ref=%s", sessionID, s.ClientReferenceID, o.OrderReference)
		return "", apierr.Conflict("payment session does not belong to this order")
	}
	if !s.Paid() {
		return "", apierr.Validation("payment has not completed")
	}
	return s.CustomerEmail, nil
}

func (r *Reconciler) attach(ctx context.Context, o *orders.Order, req Request) (*orders.Order, error) {
	switch {
	case req.SessionID != "":
		updated, err := r.orders.AttachSession(ctx, o.OrderID, req.SessionID, req.Email)
		if errors.Is(err, orders.ErrSessionConflict) {
			log.Printf("[reconcile] ref=%s session=%s conflicts with the stored session", o.OrderReference, req.SessionID)
			return nil, apierr.Conflict("order is already linked to a different payment session")
		}
		if errors.Is(err, orders.ErrNotFound) {
			return nil, apierr.OrderNotFound(o.OrderReference)
		}
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("attach session: %w", err))
		}
		return updated, nil
	case req.Email != "" && orders.NormalizeEmail(req.Email) != o.CustomerEmail:
		updated, err := r.orders.UpdateEmail(ctx, o.OrderID, req.Email)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("update email: %w", err))
		}
		return updated, nil
	}
	return o, nil
}

// advance moves the order to req.Target with compare-and-swap, re-reading on a
// lost race. Returns changed=false when the stored status is already at or past
// the target, or is cancelled.
func (r *Reconciler) advance(ctx context.Context, o *orders.Order, req Request) (*orders.Order, bool, error) {
	current := o
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		if !orders.CanAdvance(current.Status, req.Target) {
			return current, false, nil
		}

		updated, err := r.orders.UpdateStatus(ctx, current.OrderID, current.Status, req.Target, req.Tracking)
		if err == nil {
			log.Printf("[reconcile] ref=%s trigger=%s status %s -> %s", current.OrderReference, req.Trigger, current.Status, updated.Status)
			return updated, true, nil
		}
		if !errors.Is(err, orders.ErrStatusMismatch) {
			return nil, false, apierr.Internal(fmt.Errorf("update status: %w", err))
		}

		log.Printf("[reconcile] ref=%s lost status race (attempt %d), re-reading", current.OrderReference, attempt)
		fresh, err := r.orders.Get(ctx, current.OrderID)
		if err != nil {
			return nil, false, apierr.Internal(fmt.Errorf("reload order: %w", err))
		}
		if fresh == nil {
			return nil, false, apierr.OrderNotFound(current.OrderReference)
		}
		current = fresh
	}
	return nil, false, apierr.Internal(fmt.Errorf("status of order %s kept changing, gave up after %d attempts", o.OrderID, maxCASAttempts))
}

// sideEffects runs stock and email work. Failures are logged and recorded on
// res. Reports whether anything was attempted.
func (r *Reconciler) sideEffects(ctx context.Context, req Request, res *Result) bool {
	o := res.Order
	ran := false

	if req.Trigger.confirmsPayment() && req.Target != "" && o.Status != orders.StatusCancelled && o.Status.AtLeast(orders.StatusProcessing) {
		if !o.StockDecremented && r.stock != nil {
			ran = true
			sr, err := r.stock.ApplyOrder(ctx, o)
			if err != nil {
				log.Printf("[reconcile] ref=%s stock update failed: %v", o.OrderReference, err)
				res.SideEffectErrors = append(res.SideEffectErrors, "stock: "+err.Error())
			} else {
				res.Stock = sr
				for _, e := range sr.Errors {
					res.SideEffectErrors = append(res.SideEffectErrors, fmt.Sprintf("stock: %s: %s", e.ProductID, e.Reason))
				}
			}
		}
		if !o.ConfirmationEmailSent {
			ran = true
			r.notify(ctx, o, orders.EmailConfirmation, res)
		}
	}

	if res.Changed && o.Status == orders.StatusShipped && !o.ShippingEmailSent {
		ran = true
		r.notify(ctx, o, orders.EmailShipping, res)
	}
	return ran
}

func (r *Reconciler) notify(ctx context.Context, o *orders.Order, kind orders.EmailKind, res *Result) {
	if r.notifier == nil {
		return
	}
	if o.CustomerEmail == "" {
		log.Printf("[reconcile] ref=%s no customer email, skipping %s email", o.OrderReference, kind)
		return
	}
	if err := r.notifier.Notify(ctx, o.OrderReference, kind); err != nil {
		log.Printf("[reconcile] ref=%s %s email failed: %v", o.OrderReference, kind, err)
		res.SideEffectErrors = append(res.SideEffectErrors, fmt.Sprintf("%s email: %v", kind, err))
	}
}
