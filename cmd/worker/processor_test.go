package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-orderflow-realtime/internal/aws/awstest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory/directorytest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/gateway/gatewaytest"
	"github.com/imrishuroy/go-orderflow-realtime/internal/kitchen"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	p       *Processor
	db      *awstest.Dynamo
	orders  *orders.Service
	kitchen *kitchen.Service
	order   *orders.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := awstest.NewDynamo()
	db.CreateTable("orders", "order_id")
	db.CreateTable("kitchen_orders", "kitchen_order_id")
	store := orders.NewStore(db, "orders", "kitchen_orders")

	dir := directorytest.New().
		AddTable(directory.Table{ID: 1, Number: "T1", Status: directory.TableAvailable}).
		AddMenuItem(directory.MenuItem{ID: 1, Name: "Curry", Price: 11, Available: true}).
		AddStaff(directory.Staff{ID: 5, FullName: "Kim Chef", Role: directory.RoleChef}).
		AddStation(directory.Station{ID: 2, Name: "Wok"})
	bus := &gatewaytest.Recorder{}
	osvc := orders.NewService(store, dir, bus, orders.Options{})
	ksvc := kitchen.NewService(store, dir, osvc, bus, kitchen.Options{})

	o, err := osvc.Create(context.Background(), orders.CreateInput{TableID: 1, Items: []orders.ItemInput{{MenuItemID: 1, Quantity: 2}}})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := osvc.Transition(context.Background(), o.OrderID, orders.StatusConfirmed); err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	return &fixture{p: NewProcessor(ksvc, quietLogger()), db: db, orders: osvc, kitchen: ksvc, order: o}
}

func sqsEvent(bodies ...string) events.SQSEvent {
	ev := events.SQSEvent{}
	for i, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: string(rune('a' + i)), Body: b})
	}
	return ev
}

func TestProcessor_StartAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.order.KitchenOrderID

	resp, err := f.p.Handle(ctx, sqsEvent(
		`{"command":"start","kitchen_order_id":"`+id+`","staff_id":5}`,
		`{"command":"priority","kitchen_order_id":"`+id+`","priority":"urgent"}`,
		`{"command":"station","kitchen_order_id":"`+id+`","station_id":2}`,
		`{"command":"complete","kitchen_order_id":"`+id+`"}`,
	))
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %v %+v", err, resp.BatchItemFailures)
	}

	k, err := f.kitchen.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if k.Status != orders.KitchenReady || k.Priority != orders.PriorityUrgent {
		t.Fatalf("unexpected ticket: %+v", k)
	}
	if k.StationID == nil || *k.StationID != 2 || k.StaffID == nil || *k.StaffID != 5 {
		t.Fatalf("assignments not applied: %+v", k)
	}
	o, _ := f.orders.Get(ctx, f.order.OrderID)
	if o.Status != orders.StatusReady {
		t.Fatalf("order should follow the ticket, got %s", o.Status)
	}
}

func TestProcessor_RefusedCommandsAreDropped(t *testing.T) {
	f := newFixture(t)
	id := f.order.KitchenOrderID

	resp, err := f.p.Handle(context.Background(), sqsEvent(
		`not json`,
		`{"command":"explode","kitchen_order_id":"`+id+`"}`,
		`{"command":"chef","kitchen_order_id":"`+id+`"}`,
		`{"command":"complete","kitchen_order_id":"`+id+`"}`,
		`{"command":"start","kitchen_order_id":"missing"}`,
	))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("refused commands must not be retried: %+v", resp.BatchItemFailures)
	}
	k, _ := f.kitchen.Get(context.Background(), id)
	if k.Status != orders.KitchenPending {
		t.Fatalf("ticket should be untouched, got %s", k.Status)
	}
}

func TestProcessor_ReplayedStartIsDropped(t *testing.T) {
	f := newFixture(t)
	body := `{"command":"start","kitchen_order_id":"` + f.order.KitchenOrderID + `"}`

	resp, _ := f.p.Handle(context.Background(), sqsEvent(body, body))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("replay must be dropped, got %+v", resp.BatchItemFailures)
	}
}

func TestProcessor_TransientErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	f.db.FailNext("GetItem", errors.New("throttled"))

	resp, err := f.p.Handle(context.Background(), sqsEvent(
		`{"command":"start","kitchen_order_id":"`+f.order.KitchenOrderID+`"}`,
	))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "a" {
		t.Fatalf("expected the message to be reported for retry, got %+v", resp.BatchItemFailures)
	}
}
