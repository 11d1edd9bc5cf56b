package catalog

import (
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

// Item is the order line shape carried by order events.
type Item struct {
	ItemID         int64   `json:"itemId"`
	MenuItemID     int64   `json:"menuItemId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unitPrice"`
	TotalPrice     float64 `json:"totalPrice"`
	SpecialRequest string  `json:"specialRequest,omitempty"`
	Status         string  `json:"status"`
}

type OrderCreatedEvent struct {
	OrderID     string  `json:"orderId"`
	TableID     int64   `json:"tableId"`
	OrderNumber string  `json:"orderNumber"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
	FinalAmount float64 `json:"finalAmount"`
	Items       []Item  `json:"items"`
}

func (OrderCreatedEvent) Name() Name { return OrderCreated }
func (e OrderCreatedEvent) Deliveries() []Delivery {
	return to(OrderCreated, rooms.Kitchen(), rooms.Table(e.TableID), rooms.Waiters())
}

type OrderStatusChangedEvent struct {
	OrderID string `json:"orderId"`
	TableID int64  `json:"tableId"`
	Status  string `json:"status"`
}

func (OrderStatusChangedEvent) Name() Name { return OrderStatusChanged }
func (e OrderStatusChangedEvent) Deliveries() []Delivery {
	return append(
		to(OrderStatusChanged, rooms.All()),
		to(OrderStatusChangedLegacy, rooms.Waiters(), rooms.Order(e.OrderID))...,
	)
}

type OrderConfirmedEvent struct {
	OrderID     string    `json:"orderId"`
	TableID     int64     `json:"tableId"`
	OrderNumber string    `json:"orderNumber"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

func (OrderConfirmedEvent) Name() Name { return OrderConfirmed }
func (e OrderConfirmedEvent) Deliveries() []Delivery {
	return to(OrderConfirmed, rooms.Kitchen(), rooms.Table(e.TableID), rooms.Waiters())
}

type OrderItemsAddedEvent struct {
	OrderID        string  `json:"orderId"`
	TableID        int64   `json:"-"`
	Items          []Item  `json:"items"`
	NewTotalAmount float64 `json:"newTotalAmount"`
	NewFinalAmount float64 `json:"newFinalAmount"`
}

func (OrderItemsAddedEvent) Name() Name { return OrderItemsAdded }
func (e OrderItemsAddedEvent) Deliveries() []Delivery {
	return append(
		to(OrderItemsAdded, rooms.Kitchen()),
		to(OrderItemsAddedLegacy, rooms.Table(e.TableID), rooms.Order(e.OrderID))...,
	)
}

type OrderItemStatusEvent struct {
	OrderID string `json:"orderId"`
	TableID int64  `json:"-"`
	ItemID  int64  `json:"itemId"`
	Status  string `json:"status"`
}

func (OrderItemStatusEvent) Name() Name { return OrderItemStatus }
func (e OrderItemStatusEvent) Deliveries() []Delivery {
	return append(
		to(OrderItemStatus, rooms.Table(e.TableID)),
		to(OrderItemStatusChanged, rooms.Waiters(), rooms.Order(e.OrderID))...,
	)
}

type OrderCancelRequestEvent struct {
	OrderID string `json:"orderId"`
	TableID int64  `json:"tableId"`
	ItemID  *int64 `json:"itemId,omitempty"`
	Reason  string `json:"reason"`
	StaffID *int64 `json:"staffId,omitempty"`
}

func (OrderCancelRequestEvent) Name() Name { return OrderCancelRequest }
func (e OrderCancelRequestEvent) Deliveries() []Delivery {
	return to(OrderCancelRequest, rooms.Kitchen(), rooms.Order(e.OrderID))
}

type OrderCancelledEvent struct {
	OrderID string `json:"orderId"`
	TableID int64  `json:"tableId"`
	Reason  string `json:"reason"`
}

func (OrderCancelledEvent) Name() Name { return OrderCancelled }
func (e OrderCancelledEvent) Deliveries() []Delivery {
	return to(OrderCancelled, rooms.Table(e.TableID), rooms.Kitchen(), rooms.Waiters(), rooms.All())
}

// KitchenProgress is shared by the preparing, ready and completed events.
type KitchenProgress struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	TableID        int64  `json:"tableId,omitempty"`
	PrepTime       *int   `json:"prepTime,omitempty"`
}

func (p KitchenProgress) progressAudiences() []rooms.Audience {
	a := []rooms.Audience{rooms.Kitchen()}
	if p.TableID != 0 {
		a = append(a, rooms.Table(p.TableID))
	}
	return append(a, rooms.Waiters())
}

type KitchenOrderPreparingEvent struct{ KitchenProgress }

func (KitchenOrderPreparingEvent) Name() Name { return KitchenOrderPreparing }
func (e KitchenOrderPreparingEvent) Deliveries() []Delivery {
	return to(KitchenOrderPreparing, append(e.progressAudiences(), rooms.Order(e.OrderID))...)
}

type KitchenOrderReadyEvent struct{ KitchenProgress }

func (KitchenOrderReadyEvent) Name() Name { return KitchenOrderReady }
func (e KitchenOrderReadyEvent) Deliveries() []Delivery {
	return append(
		to(KitchenOrderReady, e.progressAudiences()...),
		Delivery{Audience: rooms.Order(e.OrderID), Event: KitchenReady},
	)
}

type KitchenOrderCompletedEvent struct{ KitchenProgress }

func (KitchenOrderCompletedEvent) Name() Name { return KitchenOrderCompleted }
func (e KitchenOrderCompletedEvent) Deliveries() []Delivery {
	return to(KitchenOrderCompleted, append(e.progressAudiences(), rooms.Order(e.OrderID))...)
}

type KitchenOrderAcknowledgedEvent struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	ChefID         *int64 `json:"chefId"`
	ChefName       string `json:"chefName"`
}

func (KitchenOrderAcknowledgedEvent) Name() Name { return KitchenOrderAcknowledged }
func (e KitchenOrderAcknowledgedEvent) Deliveries() []Delivery {
	return to(KitchenOrderAcknowledged, rooms.Kitchen(), rooms.Waiters(), rooms.Order(e.OrderID))
}

// CancelOutcome is shared by the accepted and rejected events.
type CancelOutcome struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	TableID        int64  `json:"tableId,omitempty"`
	ItemID         *int64 `json:"itemId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type KitchenCancelAcceptedEvent struct{ CancelOutcome }

func (KitchenCancelAcceptedEvent) Name() Name { return KitchenCancelAccepted }
func (e KitchenCancelAcceptedEvent) Deliveries() []Delivery {
	return to(KitchenCancelAccepted, rooms.Kitchen(), rooms.Waiters(), rooms.Order(e.OrderID))
}

// KitchenCancelRejectedEvent goes to the requesting side only.
type KitchenCancelRejectedEvent struct{ CancelOutcome }

func (KitchenCancelRejectedEvent) Name() Name { return KitchenCancelRejected }
func (e KitchenCancelRejectedEvent) Deliveries() []Delivery {
	return to(KitchenCancelRejected, rooms.Waiters(), rooms.Order(e.OrderID))
}

type KitchenPriorityChangedEvent struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	Priority       string `json:"priority"`
}

func (KitchenPriorityChangedEvent) Name() Name { return KitchenPriorityChanged }
func (KitchenPriorityChangedEvent) Deliveries() []Delivery {
	return to(KitchenPriorityChanged, rooms.Kitchen())
}

type KitchenStationAssignedEvent struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	StationID      int64  `json:"stationId"`
	StationName    string `json:"stationName"`
}

func (KitchenStationAssignedEvent) Name() Name { return KitchenStationAssigned }
func (KitchenStationAssignedEvent) Deliveries() []Delivery {
	return to(KitchenStationAssigned, rooms.Kitchen())
}

// KitchenOrderUpdateEvent is the catch-all sent to the kitchen board on every
// ticket change.
type KitchenOrderUpdateEvent struct {
	KitchenOrderID string `json:"kitchenOrderId"`
	OrderID        string `json:"orderId"`
	TableID        int64  `json:"tableId"`
	Status         string `json:"status"`
	StaffID        *int64 `json:"staffId,omitempty"`
}

func (KitchenOrderUpdateEvent) Name() Name { return KitchenOrderUpdate }
func (KitchenOrderUpdateEvent) Deliveries() []Delivery {
	return to(KitchenOrderUpdate, rooms.Kitchen())
}

func (OrderCreatedEvent) sealed()             {}
func (OrderStatusChangedEvent) sealed()       {}
func (OrderConfirmedEvent) sealed()           {}
func (OrderItemsAddedEvent) sealed()          {}
func (OrderItemStatusEvent) sealed()          {}
func (OrderCancelRequestEvent) sealed()       {}
func (OrderCancelledEvent) sealed()           {}
func (KitchenOrderPreparingEvent) sealed()    {}
func (KitchenOrderReadyEvent) sealed()        {}
func (KitchenOrderCompletedEvent) sealed()    {}
func (KitchenOrderAcknowledgedEvent) sealed() {}
func (KitchenCancelAcceptedEvent) sealed()    {}
func (KitchenCancelRejectedEvent) sealed()    {}
func (KitchenPriorityChangedEvent) sealed()   {}
func (KitchenStationAssignedEvent) sealed()   {}
func (KitchenOrderUpdateEvent) sealed()       {}
