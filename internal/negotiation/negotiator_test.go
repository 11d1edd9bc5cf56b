package negotiation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/aws/awstest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory/directorytest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/gateway/gatewaytest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/kitchen"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

type harness struct {
	db      *awstest.Dynamo
	dir     *directorytest.Memory
	bus     *gatewaytest.Recorder
	orders  *orders.Service
	kitchen *kitchen.Service
	neg     *Negotiator
	now     time.Time
	order   *orders.Order
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{now: time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.db = awstest.NewDynamo()
	h.db.CreateTable("orders", "order_id")
	h.db.CreateTable("kitchen_orders", "kitchen_order_id")
	store := orders.NewStore(h.db, "orders", "kitchen_orders")
	h.dir = directorytest.New().
		AddTable(directory.Table{ID: 2, Number: "T2", Status: directory.TableAvailable}).
		AddMenuItem(directory.MenuItem{ID: 1, Name: "Burger", Price: 11, Available: true}).
		AddMenuItem(directory.MenuItem{ID: 2, Name: "Fries", Price: 4, Available: true})
	h.bus = &gatewaytest.Recorder{}
	h.orders = orders.NewService(store, h.dir, h.bus, orders.Options{NowFunc: clock})
	h.kitchen = kitchen.NewService(store, nil, h.orders, h.bus, kitchen.Options{NowFunc: clock})
	h.neg = New(h.orders, h.bus, Options{NowFunc: clock, Timeout: timeout})
	h.orders.SetCancelRequester(h.neg)

	ctx := context.Background()
	o, err := h.orders.Create(ctx, orders.CreateInput{
		TableID: 2,
		Items:   []orders.ItemInput{{MenuItemID: 1, Quantity: 1}, {MenuItemID: 2, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.orders.Transition(ctx, o.OrderID, orders.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := h.kitchen.Start(ctx, o.KitchenOrderID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.order, _ = h.orders.Get(ctx, o.OrderID)
	if h.order.Status != orders.StatusPreparing {
		t.Fatalf("setup: expected preparing order, got %s", h.order.Status)
	}
	h.bus.Reset()
	return h
}

func (h *harness) snapshot() []interface{} {
	return []interface{}{
		h.db.Item("orders", h.order.OrderID),
		h.db.Item("kitchen_orders", h.order.KitchenOrderID),
	}
}

func TestRejectedCancel_LeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	before := h.snapshot()

	res, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.AwaitingKitchen {
		t.Fatalf("expected the request to wait for the kitchen")
	}
	if h.bus.Count(catalog.OrderCancelRequest) != 1 {
		t.Fatalf("expected a cancel request, got %v", h.bus.Names())
	}

	out, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: false, Reason: "already plated"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Accepted || out.Reason != "already plated" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	if after := h.snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("rejected cancellation changed persisted state")
	}
	o, _ := h.orders.Get(ctx, h.order.OrderID)
	if o.Status != orders.StatusPreparing || o.CancelledAt != nil {
		t.Fatalf("order should be unchanged: %+v", o)
	}
	ev, ok := h.bus.Last(catalog.KitchenCancelRejected).(catalog.KitchenCancelRejectedEvent)
	if !ok || ev.Reason != "already plated" || ev.OrderID != h.order.OrderID {
		t.Fatalf("unexpected rejection event: %+v", ev)
	}
	if h.bus.Count(catalog.KitchenCancelAccepted) != 0 {
		t.Fatalf("no acceptance expected")
	}
}

func TestAcceptedCancel_CancelsOrder(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	out, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Accepted || out.Order.Status != orders.StatusCancelled {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	o, _ := h.orders.Get(ctx, h.order.OrderID)
	if o.CancelledAt == nil || o.CancellationReason != "guest left" {
		t.Fatalf("cancellation not recorded: %+v", o)
	}
	k, _ := h.kitchen.Get(ctx, h.order.KitchenOrderID)
	if k.Status != orders.KitchenCancelled {
		t.Fatalf("ticket should be cancelled, got %s", k.Status)
	}
	for _, it := range o.Items {
		if it.Status != orders.ItemCancelled {
			t.Fatalf("item %d should be cancelled, got %s", it.ItemID, it.Status)
		}
	}
	if h.dir.TableStatus(2) != directory.TableAvailable {
		t.Fatalf("table should be freed")
	}
	if h.bus.Count(catalog.KitchenCancelAccepted) != 1 {
		t.Fatalf("expected acceptance event, got %v", h.bus.Names())
	}
}

func TestResolve_AtMostOnce(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true}); !apperr.IsBadRequest(err) {
		t.Fatalf("nothing pending: expected bad request, got %v", err)
	}
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true}); !apperr.IsBadRequest(err) {
		t.Fatalf("second answer: expected bad request, got %v", err)
	}
	rej := h.bus.Last(catalog.KitchenCancelRejected).(catalog.KitchenCancelRejectedEvent)
	if rej.Reason != DefaultRejectReason {
		t.Fatalf("expected default reason, got %q", rej.Reason)
	}
}

func TestDuplicateRequest(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "again", nil); !apperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if len(h.neg.Pending()) != 1 {
		t.Fatalf("expected one pending request")
	}
}

func TestItemCancel(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	staff := int64(8)

	req, err := h.neg.RequestItemCancel(ctx, h.order.OrderID, 2, "no fries", &staff)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.ItemID != 2 || req.RaisedAt.IsZero() {
		t.Fatalf("unexpected request: %+v", req)
	}
	ev := h.bus.Last(catalog.OrderCancelRequest).(catalog.OrderCancelRequestEvent)
	if ev.ItemID == nil || *ev.ItemID != 2 || ev.StaffID == nil || *ev.StaffID != 8 {
		t.Fatalf("unexpected request event: %+v", ev)
	}

	out, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, ItemID: 2, Accepted: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Order.Status != orders.StatusPreparing {
		t.Fatalf("order status should be unchanged, got %s", out.Order.Status)
	}
	if out.Order.Item(2).Status != orders.ItemCancelled || out.Order.Item(1).Status != orders.ItemPending {
		t.Fatalf("unexpected items: %+v", out.Order.Items)
	}
	k, _ := h.kitchen.Get(ctx, h.order.KitchenOrderID)
	if k.Status != orders.KitchenPreparing {
		t.Fatalf("ticket should keep going, got %s", k.Status)
	}
}

func TestItemCancel_Validation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.neg.RequestItemCancel(ctx, h.order.OrderID, 99, "x", nil); !apperr.IsNotFound(err) {
		t.Fatalf("unknown item: expected not found, got %v", err)
	}
	if _, err := h.neg.RequestItemCancel(ctx, h.order.OrderID, 1, " ", nil); !apperr.IsBadRequest(err) {
		t.Fatalf("empty reason: expected bad request, got %v", err)
	}
	if _, err := h.neg.RequestItemCancel(ctx, "missing", 1, "x", nil); !apperr.IsNotFound(err) {
		t.Fatalf("unknown order: expected not found, got %v", err)
	}
}

func TestSweep_ExpiresOldRequests(t *testing.T) {
	h := newHarness(t, 2*time.Minute)
	ctx := context.Background()
	before := h.snapshot()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if n := h.neg.Sweep(ctx, h.now.Add(time.Minute)); n != 0 {
		t.Fatalf("request expired too early")
	}
	if n := h.neg.Sweep(ctx, h.now.Add(2*time.Minute)); n != 1 {
		t.Fatalf("expected one expired request, got %d", n)
	}
	rej := h.bus.Last(catalog.KitchenCancelRejected).(catalog.KitchenCancelRejectedEvent)
	if rej.Reason != TimeoutReason {
		t.Fatalf("unexpected reason %q", rej.Reason)
	}
	if !reflect.DeepEqual(before, h.snapshot()) {
		t.Fatalf("timeout changed persisted state")
	}
	if len(h.neg.Pending()) != 0 {
		t.Fatalf("request should be gone")
	}
}

func TestSweep_Disabled(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := h.neg.Sweep(ctx, h.now.Add(24*time.Hour)); n != 0 {
		t.Fatalf("sweep should be disabled")
	}
	if err := h.neg.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

type failingOrders struct {
	Orders
	err error
}

func (f failingOrders) FinalizeCancel(ctx context.Context, orderID, reason string) (*orders.Order, error) {
	return nil, f.err
}

func TestResolve_TransientFailureKeepsRequest(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	flaky := New(failingOrders{Orders: h.orders, err: errors.New("throttled")}, h.bus, Options{})
	flaky.pending = h.neg.pending

	if _, err := flaky.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true}); err == nil {
		t.Fatalf("expected error")
	}
	if len(flaky.Pending()) != 1 {
		t.Fatalf("request should survive a transient failure")
	}

	out, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Order.Status != orders.StatusCancelled {
		t.Fatalf("expected cancelled order, got %s", out.Order.Status)
	}
}

func TestResolve_LostVersionRaceKeepsRequest(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := h.snapshot()
	conflict := "ConditionalCheckFailed"
	h.db.FailNext("TransactWriteItems", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &conflict}},
	})

	_, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true})
	if !apperr.IsBadRequest(err) {
		t.Fatalf("expected bad request for a concurrent write, got %v", err)
	}
	if !reflect.DeepEqual(before, h.snapshot()) {
		t.Fatalf("failed acceptance must not write anything")
	}
	if len(h.neg.Pending()) != 1 {
		t.Fatalf("request should stay pending after a lost race")
	}
	if h.bus.Count(catalog.KitchenCancelAccepted) != 0 {
		t.Fatalf("no acceptance expected, got %v", h.bus.Names())
	}

	out, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	k, _ := h.kitchen.Get(ctx, h.order.KitchenOrderID)
	if out.Order.Status != orders.StatusCancelled || k.Status != orders.KitchenCancelled {
		t.Fatalf("expected order and ticket cancelled together, got %s / %s", out.Order.Status, k.Status)
	}
}

func TestResolve_FinishedOrderDropsRequest(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, h.order.OrderID, "guest left", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, st := range []orders.Status{orders.StatusReady, orders.StatusServed, orders.StatusCompleted} {
		if _, err := h.orders.Transition(ctx, h.order.OrderID, st); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}

	if _, err := h.neg.Resolve(ctx, Resolution{KitchenOrderID: h.order.KitchenOrderID, Accepted: true}); !apperr.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if len(h.neg.Pending()) != 0 {
		t.Fatalf("a request for a completed order cannot succeed later and should be dropped")
	}
}
