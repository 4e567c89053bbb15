// Package gatewaytest provides a scriptable in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
)

// Fake records created sessions and serves them back. Errors queued with
// FailCreate are returned by successive CreateSession calls.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*gateway.Session
	lines    map[string][]gateway.LineItem
	failures []error
	seq      int

	Created []gateway.SessionParams
	Events  map[string]*gateway.Event // keyed by signature
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		sessions: map[string]*gateway.Session{},
		lines:    map[string][]gateway.LineItem{},
		Events:   map[string]*gateway.Event{},
	}
}

// FailCreate queues an error for the next CreateSession call.
func (f *Fake) FailCreate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

// PutSession stores a session as the processor would report it.
func (f *Fake) PutSession(s gateway.Session, lines ...gateway.LineItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &s
	f.lines[s.ID] = lines
}

func (f *Fake) CreateSession(ctx context.Context, p gateway.SessionParams) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, p)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.seq++
	s := &gateway.Session{
		ID:                fmt.Sprintf("cs_test_%d", f.seq),
		URL:               fmt.Sprintf("https://checkout.example.com/pay/cs_test_%d", f.seq),
		ClientReferenceID: p.OrderReference,
		CustomerEmail:     p.CustomerEmail,
		PaymentStatus:     gateway.PaymentStatusUnpaid,
		Currency:          p.Currency,
	}
	var lines []gateway.LineItem
	for _, li := range p.LineItems {
		s.AmountTotal += li.UnitAmount * li.Quantity
		lines = append(lines, gateway.LineItem{
			Description: li.Name,
			Quantity:    li.Quantity,
			AmountTotal: li.UnitAmount * li.Quantity,
			Currency:    p.Currency,
		})
	}
	f.sessions[s.ID] = s
	f.lines[s.ID] = lines
	cp := *s
	return &cp, nil
}

func (f *Fake) RetrieveSession(ctx context.Context, id string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, gateway.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) ListLineItems(ctx context.Context, sessionID string) ([]gateway.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, gateway.ErrSessionNotFound
	}
	return append([]gateway.LineItem(nil), f.lines[sessionID]...), nil
}

// ParseWebhook returns the event registered under signature in Events.
func (f *Fake) ParseWebhook(payload []byte, signature string) (*gateway.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.Events[signature]
	if !ok {
		return nil, gateway.ErrInvalidSignature
	}
	return ev, nil
}
