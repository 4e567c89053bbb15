package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws/dynamotest"
)

const testTable = "webhook-events"

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake, *time.Time) {
	t.Helper()
	db := dynamotest.New()
	db.AddTable(testTable, "event_id")
	s := NewStore(db, testTable, 48*time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	return s, db, &now
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	s, db, now := newTestStore(t)
	ctx := context.Background()
	id := "evt_1"

	created, err := s.CreateIfNotExists(ctx, id, "checkout.session.completed", "ORD-ABC")
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, id, "checkout.session.completed", "ORD-ABC")
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress || rec.OrderReference != "ORD-ABC" || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt != now.Add(48*time.Hour).Unix() {
		t.Fatalf("expires_at = %d", rec.ExpiresAt)
	}

	if err := s.MarkDone(ctx, id); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	var stored EventRecord
	if err := attributevalue.UnmarshalMap(db.Item(testTable, id), &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored.Status != StatusDone {
		t.Fatalf("expected DONE, got %s", stored.Status)
	}

	if err := s.MarkFailed(ctx, id, "boom"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, id)
	if rec.Status != StatusFailed || rec.Note != "boom" {
		t.Fatalf("unexpected record after MarkFailed: %+v", rec)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _, _ := newTestStore(t)
	rec, err := s.Get(context.Background(), "evt_missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestMarkDone_MissingRecord(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.MarkDone(context.Background(), "evt_missing"); err == nil {
		t.Fatalf("expected error for missing record")
	}
}

func TestCreateIfNotExists_PropagatesErrors(t *testing.T) {
	s, db, _ := newTestStore(t)
	db.FailNext("PutItem", errors.New("throttled"))
	if _, err := s.CreateIfNotExists(context.Background(), "evt_1", "t", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBegin_Outcomes(t *testing.T) {
	s, _, now := newTestStore(t)
	ctx := context.Background()

	out, err := s.Begin(ctx, "evt_1", "checkout.session.completed", "ORD-1")
	if err != nil || out != Acquired {
		t.Fatalf("first Begin = %v, %v", out, err)
	}

	out, err = s.Begin(ctx, "evt_1", "checkout.session.completed", "ORD-1")
	if err != nil || out != Busy {
		t.Fatalf("Begin while in progress = %v, %v", out, err)
	}

	if err := s.MarkFailed(ctx, "evt_1", "gateway down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	out, err = s.Begin(ctx, "evt_1", "checkout.session.completed", "ORD-1")
	if err != nil || out != Acquired {
		t.Fatalf("Begin after failure = %v, %v", out, err)
	}
	rec, _ := s.Get(ctx, "evt_1")
	if rec.Status != StatusInProgress || rec.Attempts != 2 {
		t.Fatalf("unexpected record after retake: %+v", rec)
	}

	if err := s.MarkDone(ctx, "evt_1"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	out, err = s.Begin(ctx, "evt_1", "checkout.session.completed", "ORD-1")
	if err != nil || out != AlreadyDone {
		t.Fatalf("Begin after done = %v, %v", out, err)
	}

	// an abandoned IN_PROGRESS record is taken over once the lease lapses
	if out, _ := s.Begin(ctx, "evt_2", "t", ""); out != Acquired {
		t.Fatalf("evt_2 first Begin = %v", out)
	}
	*now = now.Add(DefaultLease + time.Second)
	out, err = s.Begin(ctx, "evt_2", "t", "")
	if err != nil || out != Acquired {
		t.Fatalf("Begin after lease = %v, %v", out, err)
	}
}

func TestBegin_ConcurrentRetakeHasOneWinner(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Begin(ctx, "evt_1", "t", ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.MarkFailed(ctx, "evt_1", "x"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Begin(ctx, "evt_1", "t", "")
			if err != nil {
				t.Errorf("Begin: %v", err)
				return
			}
			if out == Acquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Fatalf("expected exactly one winner, got %d", acquired)
	}
}
