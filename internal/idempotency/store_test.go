package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/aws/awstest"
)

func newTestStore() (*Store, *awstest.Dynamo) {
	db := awstest.NewDynamo()
	db.CreateTable("idempotency-table", "idempotency_key")
	s := NewStore(db, "idempotency-table", 48*time.Hour)
	s.nowFunc = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return s, db
}

func TestBegin_Complete_Replay(t *testing.T) {
	s, db := newTestStore()
	ctx := context.Background()
	fp := Fingerprint([]byte(`{"table_id":1}`))

	rec, owned, err := s.Begin(ctx, "key-1", fp)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !owned || rec.Status != StatusInProgress {
		t.Fatalf("expected to own a fresh IN_PROGRESS record, got owned=%v %+v", owned, rec)
	}
	if rec.ExpiresAt != time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("unexpected expiry %d", rec.ExpiresAt)
	}

	// a concurrent retry sees the attempt in flight
	rec2, owned2, err := s.Begin(ctx, "key-1", fp)
	if err != nil {
		t.Fatalf("second Begin error: %v", err)
	}
	if owned2 || rec2.Status != StatusInProgress {
		t.Fatalf("expected in-progress record without ownership, got owned=%v %+v", owned2, rec2)
	}

	if err := s.Complete(ctx, "key-1", "order-123", `{"order_id":"order-123"}`, 201); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	item := db.Item("idempotency-table", "key-1")
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}

	rec3, owned3, err := s.Begin(ctx, "key-1", fp)
	if err != nil {
		t.Fatalf("third Begin error: %v", err)
	}
	if owned3 || rec3.Status != StatusDone || rec3.ResponseStatus != 201 || rec3.OrderID != "order-123" {
		t.Fatalf("expected stored response, got owned=%v %+v", owned3, rec3)
	}
	if rec3.ResponseBody != `{"order_id":"order-123"}` {
		t.Fatalf("unexpected body %q", rec3.ResponseBody)
	}
}

func TestBegin_DifferentFingerprintConflicts(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if _, _, err := s.Begin(ctx, "key-2", Fingerprint([]byte("a"))); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	_, _, err := s.Begin(ctx, "key-2", Fingerprint([]byte("b")))
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFail_AllowsRetry(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	fp := Fingerprint([]byte("body"))
	if _, _, err := s.Begin(ctx, "key-3", fp); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.Fail(ctx, "key-3", "menu lookup failed"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	rec, _ := s.Get(ctx, "key-3")
	if rec.Status != StatusFailed || rec.Note != "menu lookup failed" {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, owned, err := s.Begin(ctx, "key-3", fp)
	if err != nil {
		t.Fatalf("retry Begin error: %v", err)
	}
	if !owned || rec.Status != StatusInProgress || rec.Attempts != 2 {
		t.Fatalf("expected a re-opened record, got owned=%v %+v", owned, rec)
	}
	stored, _ := s.Get(ctx, "key-3")
	if stored.Status != StatusInProgress || stored.Attempts != 2 {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestFinish_RequiresInProgress(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if err := s.Complete(ctx, "missing", "o", "{}", 201); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
	if _, _, err := s.Begin(ctx, "key-4", "fp"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.Complete(ctx, "key-4", "o", "{}", 201); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := s.Fail(ctx, "key-4", "late"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, nil; got %v, %v", rec, err)
	}
}

func TestBegin_PropagatesErrors(t *testing.T) {
	s, db := newTestStore()
	db.FailNext("PutItem", errors.New("boom"))
	if _, _, err := s.Begin(context.Background(), "key-5", "fp"); err == nil {
		t.Fatalf("expected error")
	}
}
