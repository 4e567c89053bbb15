package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws/dynamotest"
)

const tbl = "orders"

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	mock := dynamotest.New()
	mock.AddTable(tbl, "order_id")
	mock.AddIndex(tbl, EmailIndex, "customer_email", "created_at")
	return NewStore(mock, tbl), mock
}

func sampleOrder(ref, email string) *Order {
	return &Order{
		OrderReference: ref,
		CustomerEmail:  email,
		TotalAmount:    40,
		Items: []OrderItem{
			{ID: "p1", Name: "Luxury No.5", Price: 20, Quantity: 2, Metadata: ItemMetadata{EncodedName: "Cologne (abc1)", RefCode: "abc1"}},
		},
		ProductMapping: ProductMapping{
			"Cologne (abc1)": {OriginalID: "p1", OriginalName: "Luxury No.5", RefCode: "abc1"},
		},
	}
}

func TestCreate_GetAndGetByReference(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("order_1_abc123def", "a@b.com")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.OrderID == "" {
		t.Fatalf("expected store-assigned id")
	}
	if o.Status != StatusPending {
		t.Fatalf("expected pending, got %s", o.Status)
	}
	if mock.Item(tbl, "ref#order_1_abc123def") == nil {
		t.Fatalf("reference claim not stored")
	}

	got, err := store.Get(ctx, o.OrderID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.ProductMapping["Cologne (abc1)"].OriginalName != "Luxury No.5" {
		t.Fatalf("mapping not round-tripped: %+v", got.ProductMapping)
	}

	byRef, err := store.GetByReference(ctx, "order_1_abc123def")
	if err != nil || byRef == nil {
		t.Fatalf("get by reference: %v %v", byRef, err)
	}
	if byRef.OrderID != o.OrderID {
		t.Fatalf("reference resolved to %s, want %s", byRef.OrderID, o.OrderID)
	}

	missing, err := store.GetByReference(ctx, "order_nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown reference, got %v %v", missing, err)
	}

	// the claim item is not an order
	claim, err := store.Get(ctx, "ref#order_1_abc123def")
	if err != nil || claim != nil {
		t.Fatalf("claim must not decode as order: %v %v", claim, err)
	}
}

func TestCreate_DuplicateReference(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, sampleOrder("order_2_dup", "")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := store.Create(ctx, sampleOrder("order_2_dup", ""))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	// one order + one claim
	if n := mock.Len(tbl); n != 2 {
		t.Fatalf("expected 2 items, got %d", n)
	}
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("order_10_x", "")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	// success: pending -> processing
	updated, err := store.UpdateStatus(ctx, o.OrderID, StatusPending, StatusProcessing, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}

	// failure: pending -> shipped (but current is processing)
	_, err = store.UpdateStatus(ctx, o.OrderID, StatusPending, StatusShipped, nil)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	shipped, err := store.UpdateStatus(ctx, o.OrderID, StatusProcessing, StatusShipped, &Tracking{Number: "1Z999", Carrier: "UPS"})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.TrackingNumber != "1Z999" || shipped.Carrier != "UPS" || shipped.TrackingURL != "" {
		t.Fatalf("tracking not recorded: %+v", shipped)
	}
}

func TestAttachSession_IdempotentAndConflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("order_20_y", "")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := store.AttachSession(ctx, o.OrderID, "cs_test_1", "a@b.com")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	second, err := store.AttachSession(ctx, o.OrderID, "cs_test_1", "")
	if err != nil {
		t.Fatalf("repeat attach: %v", err)
	}
	if first.StripeSessionID != second.StripeSessionID || second.CustomerEmail != "a@b.com" {
		t.Fatalf("repeat attach changed state: %+v vs %+v", first, second)
	}

	current, err := store.AttachSession(ctx, o.OrderID, "cs_test_other", "")
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	if current == nil || current.StripeSessionID != "cs_test_1" {
		t.Fatalf("expected current order with original session, got %+v", current)
	}

	if _, err := store.AttachSession(ctx, "missing", "cs_test_1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEmail_LastWriteWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("order_21_z", "old@b.com")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.UpdateEmail(ctx, o.OrderID, "new@b.com")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if got.CustomerEmail != "new@b.com" {
		t.Fatalf("email not updated: %s", got.CustomerEmail)
	}
	if _, err := store.UpdateEmail(ctx, "missing", "x@b.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimEmail_OnlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("order_30_c", "a@b.com")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.ClaimEmail(ctx, o.OrderID, EmailConfirmation); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.ClaimEmail(ctx, o.OrderID, EmailConfirmation); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	// kinds are independent
	if err := store.ClaimEmail(ctx, o.OrderID, EmailShipping); err != nil {
		t.Fatalf("shipping claim: %v", err)
	}

	if err := store.ReleaseEmail(ctx, o.OrderID, EmailConfirmation); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.ClaimEmail(ctx, o.OrderID, EmailConfirmation); err != nil {
		t.Fatalf("claim after release: %v", err)
	}

	got, _ := store.Get(ctx, o.OrderID)
	if !got.EmailSent(EmailConfirmation) || !got.EmailSent(EmailShipping) {
		t.Fatalf("flags not persisted: %+v", got)
	}
}

func TestStockFlagItem_Condition(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("order_40_s", "")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	item := store.StockFlagItem(o.OrderID)
	if _, err := mock.TransactWriteItems(ctx, txn(item)); err != nil {
		t.Fatalf("first flag: %v", err)
	}
	_, err := mock.TransactWriteItems(ctx, txn(store.StockFlagItem(o.OrderID)))
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || !conditionFailed(tce, 0) {
		t.Fatalf("expected cancelled transaction, got %v", err)
	}
}

func TestListByEmail_NewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ref := range []string{"order_a", "order_b", "order_c"} {
		o := sampleOrder(ref, "a@b.com")
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", ref, err)
		}
	}
	if err := store.Create(ctx, sampleOrder("order_other", "z@b.com")); err != nil {
		t.Fatalf("create other: %v", err)
	}

	got, err := store.ListByEmail(ctx, "a@b.com", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(got))
	}
	if got[0].OrderReference != "order_c" || got[1].OrderReference != "order_b" {
		t.Fatalf("unexpected order: %s, %s", got[0].OrderReference, got[1].OrderReference)
	}
}

func TestListByEmail_SameSecondOrdering(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	for i, ref := range []string{"order_whole", "order_half"} {
		o := sampleOrder(ref, "a@b.com")
		o.CreatedAt = base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", ref, err)
		}
	}

	got, err := store.ListByEmail(ctx, "a@b.com", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].OrderReference != "order_half" {
		t.Fatalf("expected order_half first, got %+v", got)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Fatalf("created_at round trip: %v", got[1].CreatedAt)
	}
}

func TestEmail_NormalizedOnWriteAndLookup(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("order_1_abc", " Alice@Shop.com ")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v := mock.Item(tbl, o.OrderID)["customer_email"].(*types.AttributeValueMemberS).Value; v != "alice@shop.com" {
		t.Fatalf("stored email = %q", v)
	}

	got, err := store.ListByEmail(ctx, "ALICE@shop.com", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("list with different case: %v %v", got, err)
	}

	updated, err := store.UpdateEmail(ctx, o.OrderID, "Bob@Shop.com")
	if err != nil || updated.CustomerEmail != "bob@shop.com" {
		t.Fatalf("update email: %+v %v", updated, err)
	}
	attached, err := store.AttachSession(ctx, o.OrderID, "cs_1", "Carol@Shop.com")
	if err != nil || attached.CustomerEmail != "carol@shop.com" {
		t.Fatalf("attach session: %+v %v", attached, err)
	}
}

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusShipped, true},
		{StatusProcessing, StatusProcessing, false},
		{StatusShipped, StatusPending, false},
		{StatusDelivered, StatusShipped, false},
		{StatusDelivered, StatusCancelled, true},
		{StatusCancelled, StatusProcessing, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, c := range cases {
		if got := CanAdvance(c.from, c.to); got != c.want {
			t.Fatalf("CanAdvance(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNewReference_Format(t *testing.T) {
	now := time.UnixMilli(1712345678901)
	a := NewReference(now)
	b := NewReference(now)
	if a == b {
		t.Fatalf("references collided: %s", a)
	}
	if !strings.HasPrefix(a, "order_1712345678901_") || len(a) != len("order_1712345678901_")+9 {
		t.Fatalf("unexpected reference format: %s", a)
	}
}

func txn(items ...types.TransactWriteItem) *dyn.TransactWriteItemsInput {
	return &dyn.TransactWriteItemsInput{TransactItems: items}
}
