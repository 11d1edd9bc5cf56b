// Package kitchen drives kitchen tickets through preparation and keeps the
// parent order in step with kitchen progress.
package kitchen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

const (
	unknownChef    = "Unknown Chef"
	unknownStation = "Unknown Station"
)

type Directory interface {
	Staff(ctx context.Context, id int64) (*directory.Staff, error)
	Station(ctx context.Context, id int64) (*directory.Station, error)
}

// OrderSync moves the parent order forward when the kitchen makes progress.
type OrderSync interface {
	Advance(ctx context.Context, orderID string, from, to orders.Status) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, p catalog.Payload)
}

type Counter interface {
	Incr(name string, dims ...string)
}

type Options struct {
	Log     *slog.Logger
	Metrics Counter
	NowFunc func() time.Time
}

type Service struct {
	store   *orders.Store
	dir     Directory
	orders  OrderSync
	bus     Publisher
	log     *slog.Logger
	metrics Counter
	nowFunc func() time.Time
}

func NewService(store *orders.Store, dir Directory, sync OrderSync, bus Publisher, opts Options) *Service {
	s := &Service{
		store:   store,
		dir:     dir,
		orders:  sync,
		bus:     bus,
		log:     opts.Log,
		metrics: opts.Metrics,
		nowFunc: opts.NowFunc,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

func (s *Service) Get(ctx context.Context, kitchenOrderID string) (*orders.KitchenOrder, error) {
	return s.load(ctx, kitchenOrderID)
}

// Start begins preparation of a pending ticket, optionally assigning a chef.
func (s *Service) Start(ctx context.Context, kitchenOrderID string, staffID *int64) (*orders.KitchenOrder, error) {
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	if k.Status != orders.KitchenPending {
		return nil, apperr.BadRequest("kitchen order %s is %s; only pending orders can be started", kitchenOrderID, k.Status)
	}
	if staffID != nil {
		// starting needs a valid chef; an unknown id is a bad argument here
		if _, err := s.chef(ctx, *staffID); err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.BadRequest("invalid chef: %v", err)
			}
			return nil, err
		}
		k.StaffID = staffID
	}
	now := s.nowFunc().UTC()
	k.Status = orders.KitchenPreparing
	k.StartedAt = &now

	if err := s.save(ctx, k, orders.KitchenPending); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, catalog.KitchenOrderPreparingEvent{KitchenProgress: progress(k)})
	s.syncOrder(ctx, k, orders.StatusConfirmed, orders.StatusPreparing)
	s.incr("KitchenTransitions", "status", string(k.Status))
	s.log.Info("kitchen order started", "action", "kitchen_start", "kitchen_order_id", k.KitchenOrderID, "order_id", k.OrderID)
	return k, nil
}

// Complete marks a preparing ticket ready and records the preparation time.
func (s *Service) Complete(ctx context.Context, kitchenOrderID string) (*orders.KitchenOrder, error) {
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	if k.Status != orders.KitchenPreparing {
		return nil, apperr.BadRequest("kitchen order %s is %s; only preparing orders can be completed", kitchenOrderID, k.Status)
	}
	if err := s.stampCompletion(k); err != nil {
		return nil, err
	}
	k.Status = orders.KitchenReady

	if err := s.save(ctx, k, orders.KitchenPreparing); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, catalog.KitchenOrderReadyEvent{KitchenProgress: progress(k)})
	s.syncOrder(ctx, k, orders.StatusPreparing, orders.StatusReady)
	s.incr("KitchenTransitions", "status", string(k.Status))
	s.log.Info("kitchen order ready", "action", "kitchen_complete", "kitchen_order_id", k.KitchenOrderID, "prep_time", *k.PrepTimeActual)
	return k, nil
}

// UpdateStatus is the general transition used by the kitchen display. It
// stamps timestamps the same way Start and Complete do when they are not set
// yet. Cancellation goes through the negotiation flow instead.
func (s *Service) UpdateStatus(ctx context.Context, kitchenOrderID string, target orders.KitchenStatus, chefID *int64) (*orders.KitchenOrder, error) {
	if target == orders.KitchenCancelled {
		return nil, apperr.BadRequest("kitchen orders are cancelled through a cancellation request")
	}
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	prev := k.Status
	if !prev.CanTransitionTo(target) {
		return nil, apperr.BadRequest("cannot transition kitchen order from %s to %s", prev, target)
	}

	var chef *directory.Staff
	if chefID != nil && k.StaffID == nil {
		if chef, err = s.chef(ctx, *chefID); err != nil {
			return nil, err
		}
		k.StaffID = chefID
	}

	now := s.nowFunc().UTC()
	k.Status = target
	switch target {
	case orders.KitchenPreparing:
		if k.StartedAt == nil {
			k.StartedAt = &now
		}
	case orders.KitchenReady, orders.KitchenCompleted:
		if k.CompletedAt == nil {
			if err := s.stampCompletion(k); err != nil {
				k.Status = prev
				return nil, err
			}
		}
	}

	if err := s.save(ctx, k, prev); err != nil {
		return nil, err
	}

	switch target {
	case orders.KitchenAcknowledged:
		ev := catalog.KitchenOrderAcknowledgedEvent{KitchenOrderID: k.KitchenOrderID, OrderID: k.OrderID, ChefID: k.StaffID, ChefName: unknownChef}
		if chef == nil && k.StaffID != nil {
			chef, _ = s.dir.Staff(ctx, *k.StaffID)
		}
		if chef != nil {
			ev.ChefName = chef.FullName
		}
		s.bus.Publish(ctx, ev)
	case orders.KitchenPreparing:
		s.bus.Publish(ctx, catalog.KitchenOrderPreparingEvent{KitchenProgress: progress(k)})
		s.syncOrder(ctx, k, orders.StatusConfirmed, orders.StatusPreparing)
	case orders.KitchenReady:
		s.bus.Publish(ctx, catalog.KitchenOrderReadyEvent{KitchenProgress: progress(k)})
		s.syncOrder(ctx, k, orders.StatusPreparing, orders.StatusReady)
	case orders.KitchenCompleted:
		s.bus.Publish(ctx, catalog.KitchenOrderCompletedEvent{KitchenProgress: progress(k)})
	}
	s.publishUpdate(ctx, k)
	s.incr("KitchenTransitions", "status", string(target))
	s.log.Info("kitchen order transitioned", "action", "kitchen_transition", "kitchen_order_id", k.KitchenOrderID, "from", prev, "to", target)
	return k, nil
}

func (s *Service) AssignChef(ctx context.Context, kitchenOrderID string, staffID int64) (*orders.KitchenOrder, error) {
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chef(ctx, staffID); err != nil {
		return nil, err
	}
	k.StaffID = &staffID
	if err := s.save(ctx, k, k.Status); err != nil {
		return nil, err
	}
	s.publishUpdate(ctx, k)
	return k, nil
}

func (s *Service) AssignStation(ctx context.Context, kitchenOrderID string, stationID int64) (*orders.KitchenOrder, error) {
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	st, err := s.dir.Station(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("lookup station: %w", err)
	}
	if st == nil {
		return nil, apperr.NotFound("station %d not found", stationID)
	}
	k.StationID = &stationID
	if err := s.save(ctx, k, k.Status); err != nil {
		return nil, err
	}
	name := st.Name
	if name == "" {
		name = unknownStation
	}
	s.bus.Publish(ctx, catalog.KitchenStationAssignedEvent{
		KitchenOrderID: k.KitchenOrderID,
		OrderID:        k.OrderID,
		StationID:      stationID,
		StationName:    name,
	})
	return k, nil
}

func (s *Service) SetPriority(ctx context.Context, kitchenOrderID string, p orders.Priority) (*orders.KitchenOrder, error) {
	k, err := s.load(ctx, kitchenOrderID)
	if err != nil {
		return nil, err
	}
	k.Priority = p
	if err := s.save(ctx, k, k.Status); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, catalog.KitchenPriorityChangedEvent{KitchenOrderID: k.KitchenOrderID, OrderID: k.OrderID, Priority: string(p)})
	return k, nil
}

func (s *Service) load(ctx context.Context, kitchenOrderID string) (*orders.KitchenOrder, error) {
	k, err := s.store.GetKitchenOrder(ctx, kitchenOrderID)
	if err != nil {
		return nil, fmt.Errorf("load kitchen order: %w", err)
	}
	if k == nil {
		return nil, apperr.NotFound("kitchen order %s not found", kitchenOrderID)
	}
	return k, nil
}

func (s *Service) save(ctx context.Context, k *orders.KitchenOrder, read orders.KitchenStatus) error {
	if err := s.store.SaveKitchenOrder(ctx, k); err != nil {
		if errors.Is(err, orders.ErrVersionMismatch) {
			return apperr.BadRequest("kitchen order %s was modified concurrently; status %s no longer current", k.KitchenOrderID, read)
		}
		return fmt.Errorf("save kitchen order: %w", err)
	}
	return nil
}

// chef resolves a staff member who may own a ticket.
func (s *Service) chef(ctx context.Context, staffID int64) (*directory.Staff, error) {
	st, err := s.dir.Staff(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("lookup staff: %w", err)
	}
	if st == nil {
		return nil, apperr.NotFound("staff %d not found", staffID)
	}
	if st.Role != directory.RoleChef {
		return nil, apperr.BadRequest("staff %d is a %s, not a chef", staffID, st.Role)
	}
	return st, nil
}

// stampCompletion sets completedAt and the whole minutes spent preparing.
// A ticket that never started has no preparation time to report.
func (s *Service) stampCompletion(k *orders.KitchenOrder) error {
	if k.StartedAt == nil {
		return apperr.BadRequest("kitchen order %s has no start time", k.KitchenOrderID)
	}
	now := s.nowFunc().UTC()
	mins := int(math.Floor(now.Sub(*k.StartedAt).Minutes()))
	if mins < 0 {
		mins = 0
	}
	k.CompletedAt = &now
	k.PrepTimeActual = &mins
	return nil
}

func (s *Service) syncOrder(ctx context.Context, k *orders.KitchenOrder, from, to orders.Status) {
	if s.orders == nil {
		return
	}
	if _, err := s.orders.Advance(ctx, k.OrderID, from, to); err != nil {
		s.log.Warn("order sync failed", "action", "order_sync", "order_id", k.OrderID, "kitchen_order_id", k.KitchenOrderID, "to", to, "error", err)
	}
}

func (s *Service) publishUpdate(ctx context.Context, k *orders.KitchenOrder) {
	s.bus.Publish(ctx, catalog.KitchenOrderUpdateEvent{
		KitchenOrderID: k.KitchenOrderID,
		OrderID:        k.OrderID,
		TableID:        k.TableID,
		Status:         string(k.Status),
		StaffID:        k.StaffID,
	})
}

func (s *Service) incr(name string, dims ...string) {
	if s.metrics != nil {
		s.metrics.Incr(name, dims...)
	}
}

func progress(k *orders.KitchenOrder) catalog.KitchenProgress {
	return catalog.KitchenProgress{
		KitchenOrderID: k.KitchenOrderID,
		OrderID:        k.OrderID,
		TableID:        k.TableID,
		PrepTime:       k.PrepTimeActual,
	}
}
