package catalog

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

func roomsOf(p Payload) map[rooms.Room]Name {
	out := map[rooms.Room]Name{}
	for _, d := range p.Deliveries() {
		out[rooms.RoomFor(d.Audience)] = d.Event
	}
	return out
}

func TestOrderStatusChanged_Routing(t *testing.T) {
	got := roomsOf(OrderStatusChangedEvent{OrderID: "o1", TableID: 5, Status: "confirmed"})
	want := map[rooms.Room]Name{
		"all":      OrderStatusChanged,
		"waiters":  OrderStatusChangedLegacy,
		"order:o1": OrderStatusChangedLegacy,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	for r, n := range want {
		if got[r] != n {
			t.Fatalf("room %s: got %q want %q", r, got[r], n)
		}
	}
}

func TestKitchenReady_OrderRoomUsesShortName(t *testing.T) {
	prep := 12
	got := roomsOf(KitchenOrderReadyEvent{KitchenProgress{KitchenOrderID: "k1", OrderID: "o1", TableID: 5, PrepTime: &prep}})
	if got["order:o1"] != KitchenReady {
		t.Fatalf("order room should receive %q, got %q", KitchenReady, got["order:o1"])
	}
	for _, r := range []rooms.Room{"kitchen", "table:5", "waiters"} {
		if got[r] != KitchenOrderReady {
			t.Fatalf("room %s should receive %q, got %q", r, KitchenOrderReady, got[r])
		}
	}
}

func TestKitchenProgress_NoTableRoomWithoutTable(t *testing.T) {
	got := roomsOf(KitchenOrderPreparingEvent{KitchenProgress{KitchenOrderID: "k1", OrderID: "o1"}})
	for r := range got {
		if strings.HasPrefix(string(r), "table:") {
			t.Fatalf("unexpected table delivery %s", r)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected kitchen, waiters and order rooms, got %v", got)
	}
}

func TestCancelRejected_SkipsKitchen(t *testing.T) {
	got := roomsOf(KitchenCancelRejectedEvent{CancelOutcome{KitchenOrderID: "k1", OrderID: "o1", Reason: "already plated"}})
	if _, ok := got["kitchen"]; ok {
		t.Fatalf("rejection must not be echoed to the kitchen room")
	}
	if got["waiters"] != KitchenCancelRejected || got["order:o1"] != KitchenCancelRejected {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	accepted := roomsOf(KitchenCancelAcceptedEvent{CancelOutcome{KitchenOrderID: "k1", OrderID: "o1"}})
	if accepted["kitchen"] != KitchenCancelAccepted {
		t.Fatalf("acceptance goes to the kitchen room too: %v", accepted)
	}
}

func TestEnvelope_JSONShape(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := Envelope{
		ID:        "evt-1",
		Event:     OrderItemStatusChanged,
		Data:      OrderItemStatusEvent{OrderID: "o1", TableID: 9, ItemID: 2, Status: "ready"},
		Timestamp: ts,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data := raw["data"].(map[string]interface{})
	if _, ok := data["tableId"]; ok {
		t.Fatalf("tableId is routing only for item status events: %s", b)
	}
	if data["itemId"].(float64) != 2 || data["status"] != "ready" {
		t.Fatalf("unexpected data: %s", b)
	}
	if raw["event"] != "order:item_status_changed" || raw["id"] != "evt-1" {
		t.Fatalf("unexpected envelope: %s", b)
	}
}

func TestKitchenProgress_FlattensFields(t *testing.T) {
	prep := 0
	b, _ := json.Marshal(KitchenOrderCompletedEvent{KitchenProgress{KitchenOrderID: "k1", OrderID: "o1", TableID: 3, PrepTime: &prep}})
	if !strings.Contains(string(b), `"prepTime":0`) || !strings.Contains(string(b), `"kitchenOrderId":"k1"`) {
		t.Fatalf("unexpected json: %s", b)
	}
}
