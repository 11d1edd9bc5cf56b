package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
)

// Directory is the reference data the order state machine validates against.
type Directory interface {
	Table(ctx context.Context, id int64) (*directory.Table, error)
	SetTableStatus(ctx context.Context, id int64, status string) error
	MenuItem(ctx context.Context, id int64) (*directory.MenuItem, error)
}

// Publisher is satisfied by *gateway.Gateway.
type Publisher interface {
	Publish(ctx context.Context, p catalog.Payload)
}

// CancelRequester raises a cancellation request with the kitchen instead of
// cancelling outright.
type CancelRequester interface {
	RequestCancel(ctx context.Context, o *Order, k *KitchenOrder, reason string, staffID *int64) error
}

type Counter interface {
	Incr(name string, dims ...string)
}

type Options struct {
	Log     *slog.Logger
	Metrics Counter
	NowFunc func() time.Time
	NewID   func() string
}

// Service is the order state machine.
type Service struct {
	store   *Store
	dir     Directory
	bus     Publisher
	cancels CancelRequester
	log     *slog.Logger
	metrics Counter
	nowFunc func() time.Time
	newID   func() string
}

func NewService(store *Store, dir Directory, bus Publisher, opts Options) *Service {
	s := &Service{
		store:   store,
		dir:     dir,
		bus:     bus,
		log:     opts.Log,
		metrics: opts.Metrics,
		nowFunc: opts.NowFunc,
		newID:   opts.NewID,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// SetCancelRequester wires the negotiation protocol, which itself depends on
// this service.
func (s *Service) SetCancelRequester(r CancelRequester) { s.cancels = r }

// Store exposes the underlying store to the kitchen state machine.
func (s *Service) Store() *Store { return s.store }

type ItemInput struct {
	MenuItemID     int64
	Quantity       int
	SpecialRequest string
}

type CreateInput struct {
	TableID        int64
	StaffID        *int64
	Items          []ItemInput
	DiscountAmount float64
	TaxRate        float64 // percent
	Notes          string
}

// CancelResult tells the caller whether the order was cancelled or is
// waiting for the kitchen to answer a cancellation request.
type CancelResult struct {
	Order           *Order
	AwaitingKitchen bool
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.load(ctx, orderID)
}

// Create validates the table and menu items, persists the order together with
// a pending kitchen ticket and marks the table occupied.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.BadRequest("order must contain at least one item")
	}
	if in.DiscountAmount < 0 {
		return nil, apperr.BadRequest("discount must not be negative")
	}
	if in.TaxRate < 0 || in.TaxRate > 100 {
		return nil, apperr.BadRequest("tax rate must be between 0 and 100")
	}

	table, err := s.dir.Table(ctx, in.TableID)
	if err != nil {
		return nil, fmt.Errorf("lookup table: %w", err)
	}
	if table == nil {
		return nil, apperr.NotFound("table %d not found", in.TableID)
	}
	if table.Status == directory.TableMaintenance {
		return nil, apperr.BadRequest("table %s is under maintenance", table.Number)
	}

	lines, err := s.resolveItems(ctx, in.Items, 1)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, l := range lines {
		total += l.TotalPrice
	}
	total = round2(total)
	if in.DiscountAmount > total {
		return nil, apperr.BadRequest("discount %.2f exceeds order total %.2f", in.DiscountAmount, total)
	}
	tax := round2((total - in.DiscountAmount) * in.TaxRate / 100)

	now := s.nowFunc().UTC()
	o := &Order{
		OrderID:        s.newID(),
		TableID:        in.TableID,
		StaffID:        in.StaffID,
		Status:         StatusPending,
		Items:          lines,
		TotalAmount:    total,
		DiscountAmount: in.DiscountAmount,
		TaxAmount:      tax,
		FinalAmount:    round2(total - in.DiscountAmount + tax),
		Notes:          in.Notes,
		KitchenOrderID: s.newID(),
		CreatedAt:      now,
	}
	o.OrderNumber = orderNumber(now, o.OrderID)
	k := &KitchenOrder{
		KitchenOrderID: o.KitchenOrderID,
		OrderID:        o.OrderID,
		TableID:        o.TableID,
		Status:         KitchenPending,
		Priority:       PriorityNormal,
		CreatedAt:      now,
	}

	if err := s.store.CreateWithTicket(ctx, o, k); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.setTable(ctx, o.TableID, directory.TableOccupied, o.OrderID)

	s.bus.Publish(ctx, catalog.OrderCreatedEvent{
		OrderID:     o.OrderID,
		TableID:     o.TableID,
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		Items:       catalogItems(o.Items),
	})
	s.incr("OrdersCreated")
	s.log.Info("order created", "action", "order_create", "order_id", o.OrderID, "kitchen_order_id", k.KitchenOrderID, "table_id", o.TableID, "final_amount", o.FinalAmount)
	return o, nil
}

// Transition moves the order one step along its lifecycle, or to cancelled.
func (s *Service) Transition(ctx context.Context, orderID string, target Status) (*Order, error) {
	return s.transition(ctx, orderID, target, "")
}

// FinalizeCancel cancels the order outright, recording reason.
func (s *Service) FinalizeCancel(ctx context.Context, orderID, reason string) (*Order, error) {
	return s.transition(ctx, orderID, StatusCancelled, reason)
}

// Advance performs from -> to only if the order is currently in from. It
// reports whether the order moved.
func (s *Service) Advance(ctx context.Context, orderID string, from, to Status) (bool, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Status != from {
		return false, nil
	}
	if _, err := s.transition(ctx, orderID, to, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) transition(ctx context.Context, orderID string, target Status, reason string) (*Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	prev := o.Status
	if !prev.CanTransitionTo(target) {
		return nil, apperr.BadRequest("cannot transition from %s to %s", prev, target)
	}

	// a cancelled order takes its lines and any unfinished ticket with it
	var ticket *KitchenOrder
	if target == StatusCancelled {
		ticket, err = s.store.GetKitchenOrder(ctx, o.KitchenOrderID)
		if err != nil {
			return nil, fmt.Errorf("load kitchen order: %w", err)
		}
		if ticket != nil && ticket.Status.Terminal() {
			ticket = nil
		}
	}

	now := s.nowFunc().UTC()
	o.Status = target
	switch target {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
		o.CancellationReason = reason
		for i := range o.Items {
			o.Items[i].Status = ItemCancelled
		}
		if ticket != nil {
			ticket.Status = KitchenCancelled
		}
	}

	if err := s.store.SaveWithTicket(ctx, o, ticket); err != nil {
		return nil, s.saveErr(orderID, prev, err)
	}
	if target.Terminal() {
		s.setTable(ctx, o.TableID, directory.TableAvailable, o.OrderID)
	}
	if ticket != nil {
		s.bus.Publish(ctx, catalog.KitchenOrderUpdateEvent{
			KitchenOrderID: ticket.KitchenOrderID,
			OrderID:        ticket.OrderID,
			TableID:        ticket.TableID,
			Status:         string(ticket.Status),
			StaffID:        ticket.StaffID,
		})
	}

	s.bus.Publish(ctx, catalog.OrderStatusChangedEvent{OrderID: o.OrderID, TableID: o.TableID, Status: string(o.Status)})
	switch target {
	case StatusConfirmed:
		s.bus.Publish(ctx, catalog.OrderConfirmedEvent{
			OrderID:     o.OrderID,
			TableID:     o.TableID,
			OrderNumber: o.OrderNumber,
			ConfirmedAt: now,
		})
	case StatusCancelled:
		s.bus.Publish(ctx, catalog.OrderCancelledEvent{OrderID: o.OrderID, TableID: o.TableID, Reason: reason})
	}
	s.incr("OrderTransitions", "status", string(target))
	s.log.Info("order transitioned", "action", "order_transition", "order_id", o.OrderID, "from", prev, "to", target)
	return o, nil
}

// AddItems appends lines to a live order. The discount is kept and tax is
// re-derived at the order's current effective rate.
func (s *Service) AddItems(ctx context.Context, orderID string, items []ItemInput) ([]OrderItem, error) {
	if len(items) == 0 {
		return nil, apperr.BadRequest("at least one item is required")
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, apperr.BadRequest("cannot add items to a %s order", o.Status)
	}

	var nextID int64 = 1
	for _, it := range o.Items {
		if it.ItemID >= nextID {
			nextID = it.ItemID + 1
		}
	}
	lines, err := s.resolveItems(ctx, items, nextID)
	if err != nil {
		return nil, err
	}
	var added float64
	for _, l := range lines {
		added += l.TotalPrice
	}

	var rate float64
	if sub := o.TotalAmount - o.DiscountAmount; sub > 0 {
		rate = o.TaxAmount / sub
	}
	prev := o.Status
	o.Items = append(o.Items, lines...)
	o.TotalAmount = round2(o.TotalAmount + added)
	o.TaxAmount = round2((o.TotalAmount - o.DiscountAmount) * rate)
	o.FinalAmount = round2(o.TotalAmount - o.DiscountAmount + o.TaxAmount)

	if err := s.store.SaveOrder(ctx, o); err != nil {
		return nil, s.saveErr(orderID, prev, err)
	}

	s.bus.Publish(ctx, catalog.OrderItemsAddedEvent{
		OrderID:        o.OrderID,
		TableID:        o.TableID,
		Items:          catalogItems(lines),
		NewTotalAmount: o.TotalAmount,
		NewFinalAmount: o.FinalAmount,
	})
	s.log.Info("order items added", "action", "order_add_items", "order_id", o.OrderID, "items", len(lines), "total_amount", o.TotalAmount)
	return lines, nil
}

// Cancel asks the kitchen when it is already working on the ticket and
// cancels directly otherwise. A direct cancel also withdraws a pending or
// ready ticket.
func (s *Service) Cancel(ctx context.Context, orderID, reason string, staffID *int64) (*CancelResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.BadRequest("cancellation reason is required")
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusCompleted:
		return nil, apperr.BadRequest("cannot cancel completed order")
	case StatusCancelled:
		return nil, apperr.BadRequest("order %s is already cancelled", orderID)
	}

	k, err := s.store.GetKitchenOrder(ctx, o.KitchenOrderID)
	if err != nil {
		return nil, fmt.Errorf("load kitchen order: %w", err)
	}
	if k != nil && k.Status.Active() {
		if s.cancels == nil {
			return nil, errors.New("cancellation negotiation is not configured")
		}
		if err := s.cancels.RequestCancel(ctx, o, k, reason, staffID); err != nil {
			return nil, err
		}
		return &CancelResult{Order: o, AwaitingKitchen: true}, nil
	}

	updated, err := s.transition(ctx, orderID, StatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	return &CancelResult{Order: updated}, nil
}

// UpdateItemStatus sets a line's status. Lines of finished orders are frozen.
func (s *Service) UpdateItemStatus(ctx context.Context, orderID string, itemID int64, status ItemStatus) (*OrderItem, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	item := o.Item(itemID)
	if item == nil {
		return nil, apperr.NotFound("item %d not found on order %s", itemID, orderID)
	}
	if o.Status.Terminal() {
		return nil, apperr.BadRequest("order %s is %s; its items can no longer change", orderID, o.Status)
	}
	item.Status = status
	if err := s.store.SaveOrder(ctx, o); err != nil {
		return nil, s.saveErr(orderID, o.Status, err)
	}

	s.bus.Publish(ctx, catalog.OrderItemStatusEvent{
		OrderID: o.OrderID,
		TableID: o.TableID,
		ItemID:  itemID,
		Status:  string(status),
	})
	out := *o.Item(itemID)
	return &out, nil
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return o, nil
}

func (s *Service) resolveItems(ctx context.Context, items []ItemInput, firstID int64) ([]OrderItem, error) {
	lines := make([]OrderItem, 0, len(items))
	for i, in := range items {
		if in.Quantity < 1 {
			return nil, apperr.BadRequest("quantity for menu item %d must be at least 1", in.MenuItemID)
		}
		mi, err := s.dir.MenuItem(ctx, in.MenuItemID)
		if err != nil {
			return nil, fmt.Errorf("lookup menu item: %w", err)
		}
		if mi == nil {
			return nil, apperr.NotFound("menu item %d not found", in.MenuItemID)
		}
		if !mi.Available {
			return nil, apperr.BadRequest("%s is currently unavailable", mi.Name)
		}
		lines = append(lines, OrderItem{
			ItemID:         firstID + int64(i),
			MenuItemID:     mi.ID,
			Name:           mi.Name,
			Quantity:       in.Quantity,
			UnitPrice:      mi.Price,
			TotalPrice:     round2(float64(in.Quantity) * mi.Price),
			SpecialRequest: in.SpecialRequest,
			Status:         ItemPending,
		})
	}
	return lines, nil
}

// setTable is a side effect of a committed transition; failures are logged.
func (s *Service) setTable(ctx context.Context, tableID int64, status, orderID string) {
	if err := s.dir.SetTableStatus(ctx, tableID, status); err != nil {
		s.log.Error("table status update failed", "action", "table_status", "table_id", tableID, "status", status, "order_id", orderID, "error", err)
		s.incr("TableStatusFailures")
	}
}

func (s *Service) saveErr(orderID string, read Status, err error) error {
	if errors.Is(err, ErrVersionMismatch) {
		return apperr.BadRequest("order %s was modified concurrently; status %s no longer current", orderID, read)
	}
	return fmt.Errorf("save order: %w", err)
}

func (s *Service) incr(name string, dims ...string) {
	if s.metrics != nil {
		s.metrics.Incr(name, dims...)
	}
}

func catalogItems(items []OrderItem) []catalog.Item {
	out := make([]catalog.Item, len(items))
	for i, it := range items {
		out[i] = catalog.Item{
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
	return out
}

func orderNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
