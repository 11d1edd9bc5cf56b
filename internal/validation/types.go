package validation

// Item is a single order line in a create or add-items request.
type Item struct {
	MenuItemID     int64  `json:"menu_item_id" validate:"required,gt=0"`
	Quantity       int    `json:"quantity" validate:"required,min=1,max=99"`
	SpecialRequest string `json:"special_request,omitempty" validate:"max=200"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	TableID        int64   `json:"table_id" validate:"required,gt=0"`
	StaffID        *int64  `json:"staff_id,omitempty" validate:"omitempty,gt=0"`
	Items          []Item  `json:"items" validate:"required,min=1,dive"`
	DiscountAmount float64 `json:"discount_amount" validate:"gte=0"`
	TaxRate        float64 `json:"tax_rate" validate:"gte=0,lte=100"` // percent
	Notes          string  `json:"notes,omitempty" validate:"max=500"`
}

type AddItemsRequest struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

type CancelRequest struct {
	Reason  string `json:"reason" validate:"required,max=500"`
	StaffID *int64 `json:"staff_id,omitempty" validate:"omitempty,gt=0"`
}

type ItemStatusRequest struct {
	Status string `json:"status" validate:"required,item_status"`
}

type StartRequest struct {
	StaffID *int64 `json:"staff_id,omitempty" validate:"omitempty,gt=0"`
}

type KitchenStatusRequest struct {
	Status string `json:"status" validate:"required,kitchen_status"`
	ChefID *int64 `json:"chef_id,omitempty" validate:"omitempty,gt=0"`
}

type AssignChefRequest struct {
	StaffID int64 `json:"staff_id" validate:"required,gt=0"`
}

type AssignStationRequest struct {
	StationID int64 `json:"station_id" validate:"required,gt=0"`
}

type PriorityRequest struct {
	Priority string `json:"priority" validate:"required,priority"`
}

// CancelResponseRequest is the kitchen's answer to a cancellation request.
// Accepted is a pointer so that an explicit false passes "required".
type CancelResponseRequest struct {
	Accepted *bool  `json:"accepted" validate:"required"`
	Reason   string `json:"reason,omitempty" validate:"max=500"`
	ItemID   int64  `json:"item_id,omitempty" validate:"gte=0"`
}

// Kitchen display commands consumed by the worker.
const (
	CommandStart    = "start"
	CommandComplete = "complete"
	CommandStatus   = "status"
	CommandPriority = "priority"
	CommandStation  = "station"
	CommandChef     = "chef"
)

// KitchenCommand is one SQS message from a kitchen display.
type KitchenCommand struct {
	Command        string `json:"command" validate:"required,oneof=start complete status priority station chef"`
	KitchenOrderID string `json:"kitchen_order_id" validate:"required"`
	StaffID        *int64 `json:"staff_id,omitempty" validate:"omitempty,gt=0"`
	Status         string `json:"status,omitempty" validate:"omitempty,kitchen_status"`
	Priority       string `json:"priority,omitempty" validate:"omitempty,priority"`
	StationID      int64  `json:"station_id,omitempty" validate:"gte=0"`
}
