package handlers

import (
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

type itemView struct {
	ItemID         int64   `json:"item_id"`
	MenuItemID     int64   `json:"menu_item_id"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	TotalPrice     float64 `json:"total_price"`
	SpecialRequest string  `json:"special_request,omitempty"`
	Status         string  `json:"status"`
}

type orderView struct {
	OrderID            string     `json:"order_id"`
	OrderNumber        string     `json:"order_number"`
	TableID            int64      `json:"table_id"`
	StaffID            *int64     `json:"staff_id,omitempty"`
	Status             string     `json:"status"`
	Items              []itemView `json:"items"`
	TotalAmount        float64    `json:"total_amount"`
	DiscountAmount     float64    `json:"discount_amount"`
	TaxAmount          float64    `json:"tax_amount"`
	FinalAmount        float64    `json:"final_amount"`
	Notes              string     `json:"notes,omitempty"`
	KitchenOrderID     string     `json:"kitchen_order_id"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

type kitchenView struct {
	KitchenOrderID string     `json:"kitchen_order_id"`
	OrderID        string     `json:"order_id"`
	TableID        int64      `json:"table_id"`
	Status         string     `json:"status"`
	StaffID        *int64     `json:"staff_id,omitempty"`
	StationID      *int64     `json:"station_id,omitempty"`
	Priority       string     `json:"priority"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PrepTimeActual *int       `json:"prep_time_actual,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toItemView(it orders.OrderItem) itemView {
	return itemView{
		ItemID:         it.ItemID,
		MenuItemID:     it.MenuItemID,
		Name:           it.Name,
		Quantity:       it.Quantity,
		UnitPrice:      it.UnitPrice,
		TotalPrice:     it.TotalPrice,
		SpecialRequest: it.SpecialRequest,
		Status:         string(it.Status),
	}
}

func toItemViews(items []orders.OrderItem) []itemView {
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = toItemView(it)
	}
	return out
}

func toOrderView(o *orders.Order) orderView {
	return orderView{
		OrderID:            o.OrderID,
		OrderNumber:        o.OrderNumber,
		TableID:            o.TableID,
		StaffID:            o.StaffID,
		Status:             string(o.Status),
		Items:              toItemViews(o.Items),
		TotalAmount:        o.TotalAmount,
		DiscountAmount:     o.DiscountAmount,
		TaxAmount:          o.TaxAmount,
		FinalAmount:        o.FinalAmount,
		Notes:              o.Notes,
		KitchenOrderID:     o.KitchenOrderID,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ConfirmedAt:        o.ConfirmedAt,
		CompletedAt:        o.CompletedAt,
		CancelledAt:        o.CancelledAt,
	}
}

func toKitchenView(k *orders.KitchenOrder) kitchenView {
	return kitchenView{
		KitchenOrderID: k.KitchenOrderID,
		OrderID:        k.OrderID,
		TableID:        k.TableID,
		Status:         string(k.Status),
		StaffID:        k.StaffID,
		StationID:      k.StationID,
		Priority:       string(k.Priority),
		StartedAt:      k.StartedAt,
		CompletedAt:    k.CompletedAt,
		PrepTimeActual: k.PrepTimeActual,
		CreatedAt:      k.CreatedAt,
		UpdatedAt:      k.UpdatedAt,
	}
}
