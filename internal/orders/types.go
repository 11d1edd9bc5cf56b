package orders

import "time"

// Status is the canonical order status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var orderFlow = map[Status]Status{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusServed,
	StatusServed:    StatusCompleted,
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if _, ok := orderFlow[st]; ok || st == StatusCompleted || st == StatusCancelled {
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// CanTransitionTo allows exactly one step forward, or cancelled from any
// non-terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return orderFlow[s] == next
}

// ItemStatus is the per-line sub-state; it has no enforced graph.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemPreparing ItemStatus = "preparing"
	ItemReady     ItemStatus = "ready"
	ItemServed    ItemStatus = "served"
	ItemCancelled ItemStatus = "cancelled"
)

func ParseItemStatus(s string) (ItemStatus, bool) {
	switch st := ItemStatus(s); st {
	case ItemPending, ItemPreparing, ItemReady, ItemServed, ItemCancelled:
		return st, true
	}
	return "", false
}

// KitchenStatus is the kitchen ticket status.
type KitchenStatus string

const (
	KitchenPending      KitchenStatus = "pending"
	KitchenAcknowledged KitchenStatus = "acknowledged"
	KitchenPreparing    KitchenStatus = "preparing"
	KitchenReady        KitchenStatus = "ready"
	KitchenCompleted    KitchenStatus = "completed"
	KitchenCancelled    KitchenStatus = "cancelled"
)

var kitchenFlow = map[KitchenStatus][]KitchenStatus{
	KitchenPending:      {KitchenAcknowledged, KitchenPreparing, KitchenCancelled},
	KitchenAcknowledged: {KitchenPreparing, KitchenCancelled},
	KitchenPreparing:    {KitchenReady, KitchenCancelled},
	KitchenReady:        {KitchenCompleted},
}

func ParseKitchenStatus(s string) (KitchenStatus, bool) {
	switch st := KitchenStatus(s); st {
	case KitchenPending, KitchenAcknowledged, KitchenPreparing, KitchenReady, KitchenCompleted, KitchenCancelled:
		return st, true
	}
	return "", false
}

func (s KitchenStatus) CanTransitionTo(next KitchenStatus) bool {
	for _, n := range kitchenFlow[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Active reports whether the kitchen has committed work to the ticket.
func (s KitchenStatus) Active() bool {
	return s == KitchenAcknowledged || s == KitchenPreparing
}

func (s KitchenStatus) Terminal() bool {
	return s == KitchenCompleted || s == KitchenCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// Order is the item stored in the orders table.
type Order struct {
	OrderID            string      `dynamodbav:"order_id"` // PK
	OrderNumber        string      `dynamodbav:"order_number"`
	TableID            int64       `dynamodbav:"table_id"`
	StaffID            *int64      `dynamodbav:"staff_id,omitempty"`
	Status             Status      `dynamodbav:"status"`
	Items              []OrderItem `dynamodbav:"items"`
	TotalAmount        float64     `dynamodbav:"total_amount"`
	DiscountAmount     float64     `dynamodbav:"discount_amount"`
	TaxAmount          float64     `dynamodbav:"tax_amount"`
	FinalAmount        float64     `dynamodbav:"final_amount"`
	Notes              string      `dynamodbav:"notes,omitempty"`
	KitchenOrderID     string      `dynamodbav:"kitchen_order_id"`
	CancellationReason string      `dynamodbav:"cancellation_reason,omitempty"`
	CreatedAt          time.Time   `dynamodbav:"created_at"`
	UpdatedAt          time.Time   `dynamodbav:"updated_at"`
	ConfirmedAt        *time.Time  `dynamodbav:"confirmed_at,omitempty"`
	CompletedAt        *time.Time  `dynamodbav:"completed_at,omitempty"`
	CancelledAt        *time.Time  `dynamodbav:"cancelled_at,omitempty"`
	Version            int64       `dynamodbav:"version"`
}

// Item returns the line with itemID, or nil.
func (o *Order) Item(itemID int64) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ItemID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

type OrderItem struct {
	ItemID         int64      `dynamodbav:"item_id"`
	MenuItemID     int64      `dynamodbav:"menu_item_id"`
	Name           string     `dynamodbav:"name"`
	Quantity       int        `dynamodbav:"quantity"`
	UnitPrice      float64    `dynamodbav:"unit_price"`
	TotalPrice     float64    `dynamodbav:"total_price"`
	SpecialRequest string     `dynamodbav:"special_request,omitempty"`
	Status         ItemStatus `dynamodbav:"status"`
}

// KitchenOrder is the kitchen ticket paired 1:1 with an Order.
type KitchenOrder struct {
	KitchenOrderID string        `dynamodbav:"kitchen_order_id"` // PK
	OrderID        string        `dynamodbav:"order_id"`
	TableID        int64         `dynamodbav:"table_id"`
	Status         KitchenStatus `dynamodbav:"status"`
	StaffID        *int64        `dynamodbav:"staff_id,omitempty"`
	StationID      *int64        `dynamodbav:"station_id,omitempty"`
	Priority       Priority      `dynamodbav:"priority"`
	StartedAt      *time.Time    `dynamodbav:"started_at,omitempty"`
	CompletedAt    *time.Time    `dynamodbav:"completed_at,omitempty"`
	PrepTimeActual *int          `dynamodbav:"prep_time_actual,omitempty"`
	CreatedAt      time.Time     `dynamodbav:"created_at"`
	UpdatedAt      time.Time     `dynamodbav:"updated_at"`
	Version        int64         `dynamodbav:"version"`
}
