// Package catalog is the fixed vocabulary of realtime events: their names,
// their payload shapes and the audiences each one is delivered to.
package catalog

import (
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

// Name is the wire name of an event.
type Name string

const (
	OrderCreated             Name = "order:created"
	OrderStatusChanged       Name = "order:status-changed"
	OrderStatusChangedLegacy Name = "order:status_changed"
	OrderConfirmed           Name = "order:confirmed"
	OrderItemsAdded          Name = "order:items-added"
	OrderItemsAddedLegacy    Name = "order:items_added"
	OrderItemStatus          Name = "order:item_status"
	OrderItemStatusChanged   Name = "order:item_status_changed"
	OrderCancelRequest       Name = "order:cancel_request"
	OrderCancelled           Name = "order:cancelled"

	KitchenOrderPreparing    Name = "kitchen:order_preparing"
	KitchenOrderReady        Name = "kitchen:order_ready"
	KitchenReady             Name = "kitchen:ready"
	KitchenOrderCompleted    Name = "kitchen:order_completed"
	KitchenOrderAcknowledged Name = "kitchen:order_acknowledged"
	KitchenCancelAccepted    Name = "kitchen:cancel_accepted"
	KitchenCancelRejected    Name = "kitchen:cancel_rejected"
	KitchenPriorityChanged   Name = "kitchen:priority_changed"
	KitchenStationAssigned   Name = "kitchen:station_assigned"
	KitchenOrderUpdate       Name = "kitchen:order:update"
)

// Delivery is one room-level send of a logical event. Some audiences receive
// a differently spelled name for the same event.
type Delivery struct {
	Audience rooms.Audience
	Event    Name
}

// Payload is implemented only by the event types in this package.
type Payload interface {
	// Name is the canonical name of the logical event.
	Name() Name
	// Deliveries lists every audience the event is sent to.
	Deliveries() []Delivery
	sealed()
}

// Envelope is the frame written to subscribers. ID is shared by all room
// deliveries of one logical event so receivers can de-duplicate.
type Envelope struct {
	ID        string    `json:"id"`
	Event     Name      `json:"event"`
	Data      Payload   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func to(name Name, audiences ...rooms.Audience) []Delivery {
	out := make([]Delivery, len(audiences))
	for i, a := range audiences {
		out[i] = Delivery{Audience: a, Event: name}
	}
	return out
}
