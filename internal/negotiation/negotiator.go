// Package negotiation implements the two-phase cancellation exchange between
// the floor and the kitchen. A request never mutates the order; only an
// accepted resolution does.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

const (
	DefaultRejectReason = "No reason provided"
	TimeoutReason       = "cancellation request timed out"
)

// Orders is the part of the order state machine the negotiator drives.
type Orders interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FinalizeCancel(ctx context.Context, orderID, reason string) (*orders.Order, error)
	UpdateItemStatus(ctx context.Context, orderID string, itemID int64, status orders.ItemStatus) (*orders.OrderItem, error)
}

type Publisher interface {
	Publish(ctx context.Context, p catalog.Payload)
}

type Counter interface {
	Incr(name string, dims ...string)
}

// Request is a cancellation waiting for the kitchen. ItemID 0 targets the
// whole order.
type Request struct {
	OrderID        string
	KitchenOrderID string
	TableID        int64
	ItemID         int64
	Reason         string
	RequestedBy    *int64
	RaisedAt       time.Time
}

// Resolution is the kitchen's answer to a pending request.
type Resolution struct {
	KitchenOrderID string
	ItemID         int64
	Accepted       bool
	Reason         string
}

// Outcome reports what a resolution did.
type Outcome struct {
	Request  Request
	Accepted bool
	Reason   string
	Order    *orders.Order
}

type Options struct {
	Log     *slog.Logger
	Metrics Counter
	// Timeout auto-rejects requests left unanswered; zero disables it.
	Timeout time.Duration
	NowFunc func() time.Time
}

type key struct {
	kitchenOrderID string
	itemID         int64
}

type Negotiator struct {
	orders  Orders
	bus     Publisher
	log     *slog.Logger
	metrics Counter
	timeout time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	pending map[key]Request
}

func New(o Orders, bus Publisher, opts Options) *Negotiator {
	n := &Negotiator{
		orders:  o,
		bus:     bus,
		log:     opts.Log,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		nowFunc: opts.NowFunc,
		pending: map[key]Request{},
	}
	if n.log == nil {
		n.log = logging.Discard()
	}
	if n.nowFunc == nil {
		n.nowFunc = time.Now
	}
	return n
}

// RequestCancel raises an order-level request. It satisfies
// orders.CancelRequester.
func (n *Negotiator) RequestCancel(ctx context.Context, o *orders.Order, k *orders.KitchenOrder, reason string, staffID *int64) error {
	return n.raise(ctx, Request{
		OrderID:        o.OrderID,
		KitchenOrderID: k.KitchenOrderID,
		TableID:        o.TableID,
		Reason:         reason,
		RequestedBy:    staffID,
	})
}

// RequestItemCancel asks the kitchen to drop a single line of an order.
func (n *Negotiator) RequestItemCancel(ctx context.Context, orderID string, itemID int64, reason string, staffID *int64) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.BadRequest("cancellation reason is required")
	}
	o, err := n.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, apperr.BadRequest("order %s is %s", orderID, o.Status)
	}
	item := o.Item(itemID)
	if item == nil {
		return nil, apperr.NotFound("item %d not found on order %s", itemID, orderID)
	}
	if item.Status == orders.ItemCancelled {
		return nil, apperr.BadRequest("item %d is already cancelled", itemID)
	}
	req := Request{
		OrderID:        o.OrderID,
		KitchenOrderID: o.KitchenOrderID,
		TableID:        o.TableID,
		ItemID:         itemID,
		Reason:         reason,
		RequestedBy:    staffID,
	}
	if err := n.raise(ctx, req); err != nil {
		return nil, err
	}
	req, _ = n.lookup(key{req.KitchenOrderID, itemID})
	return &req, nil
}

func (n *Negotiator) raise(ctx context.Context, req Request) error {
	req.RaisedAt = n.nowFunc().UTC()
	k := key{req.KitchenOrderID, req.ItemID}

	n.mu.Lock()
	if _, dup := n.pending[k]; dup {
		n.mu.Unlock()
		return apperr.BadRequest("a cancellation request for %s is already pending", describe(req))
	}
	n.pending[k] = req
	n.mu.Unlock()

	n.bus.Publish(ctx, catalog.OrderCancelRequestEvent{
		OrderID: req.OrderID,
		TableID: req.TableID,
		ItemID:  itemPtr(req.ItemID),
		Reason:  req.Reason,
		StaffID: req.RequestedBy,
	})
	n.incr("CancelRequests")
	n.log.Info("cancellation requested", "action", "cancel_request", "order_id", req.OrderID, "kitchen_order_id", req.KitchenOrderID, "item_id", req.ItemID)
	return nil
}

// Resolve applies the kitchen's answer. A request is answered at most once;
// a second answer finds nothing pending and is rejected.
func (n *Negotiator) Resolve(ctx context.Context, res Resolution) (*Outcome, error) {
	k := key{res.KitchenOrderID, res.ItemID}
	n.mu.Lock()
	req, ok := n.pending[k]
	if ok {
		delete(n.pending, k)
	}
	n.mu.Unlock()
	if !ok {
		return nil, apperr.BadRequest("no pending cancellation request for kitchen order %s", res.KitchenOrderID)
	}

	if !res.Accepted {
		reason := strings.TrimSpace(res.Reason)
		if reason == "" {
			reason = DefaultRejectReason
		}
		n.reject(ctx, req, reason)
		return &Outcome{Request: req, Reason: reason}, nil
	}

	out, err := n.accept(ctx, req)
	if err != nil {
		if n.retryable(ctx, req, err) {
			n.restore(k, req)
		}
		return nil, err
	}
	return out, nil
}

// accept applies the cancellation with a single write: the order with its
// lines and ticket, or the one line.
func (n *Negotiator) accept(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{Request: req, Accepted: true, Reason: req.Reason}
	if req.ItemID != 0 {
		if _, err := n.orders.UpdateItemStatus(ctx, req.OrderID, req.ItemID, orders.ItemCancelled); err != nil {
			return nil, fmt.Errorf("cancel item: %w", err)
		}
		o, err := n.orders.Get(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		out.Order = o
	} else {
		o, err := n.orders.FinalizeCancel(ctx, req.OrderID, req.Reason)
		if err != nil {
			return nil, fmt.Errorf("cancel order: %w", err)
		}
		out.Order = o
	}

	n.bus.Publish(ctx, catalog.KitchenCancelAcceptedEvent{CancelOutcome: outcome(req, req.Reason)})
	n.incr("CancelResolutions", "outcome", "accepted")
	n.log.Info("cancellation accepted", "action", "cancel_resolve", "order_id", req.OrderID, "kitchen_order_id", req.KitchenOrderID, "item_id", req.ItemID)
	return out, nil
}

// retryable reports whether a failed acceptance left the target in a state a
// second answer could still cancel. Nothing was written when accept failed,
// so a lost version race or a store error keeps the request.
func (n *Negotiator) retryable(ctx context.Context, req Request, cause error) bool {
	if apperr.IsNotFound(cause) {
		return false
	}
	o, err := n.orders.Get(ctx, req.OrderID)
	if err != nil {
		return !apperr.IsNotFound(err)
	}
	if o.Status.Terminal() {
		return false
	}
	if req.ItemID != 0 {
		item := o.Item(req.ItemID)
		return item != nil && item.Status != orders.ItemCancelled
	}
	return true
}

// reject writes nothing; the order stays exactly as it was.
func (n *Negotiator) reject(ctx context.Context, req Request, reason string) {
	n.bus.Publish(ctx, catalog.KitchenCancelRejectedEvent{CancelOutcome: outcome(req, reason)})
	n.incr("CancelResolutions", "outcome", "rejected")
	n.log.Info("cancellation rejected", "action", "cancel_resolve", "order_id", req.OrderID, "kitchen_order_id", req.KitchenOrderID, "item_id", req.ItemID, "reason", reason)
}

// Pending lists outstanding requests, oldest first.
func (n *Negotiator) Pending() []Request {
	n.mu.Lock()
	out := make([]Request, 0, len(n.pending))
	for _, r := range n.pending {
		out = append(out, r)
	}
	n.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

// Sweep rejects every request older than the timeout and returns how many it
// expired.
func (n *Negotiator) Sweep(ctx context.Context, now time.Time) int {
	if n.timeout <= 0 {
		return 0
	}
	var expired []Request
	n.mu.Lock()
	for k, r := range n.pending {
		if now.Sub(r.RaisedAt) >= n.timeout {
			expired = append(expired, r)
			delete(n.pending, k)
		}
	}
	n.mu.Unlock()

	for _, r := range expired {
		n.reject(ctx, r, TimeoutReason)
	}
	return len(expired)
}

// Run sweeps until ctx is done. It returns immediately when timeouts are off.
func (n *Negotiator) Run(ctx context.Context) error {
	if n.timeout <= 0 {
		return nil
	}
	interval := n.timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c := n.Sweep(ctx, n.nowFunc().UTC()); c > 0 {
				n.log.Info("expired cancellation requests", "action", "cancel_sweep", "count", c)
			}
		}
	}
}

func (n *Negotiator) lookup(k key) (Request, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.pending[k]
	return r, ok
}

func (n *Negotiator) restore(k key, req Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.pending[k]; !taken {
		n.pending[k] = req
	}
}

func (n *Negotiator) incr(name string, dims ...string) {
	if n.metrics != nil {
		n.metrics.Incr(name, dims...)
	}
}

func outcome(req Request, reason string) catalog.CancelOutcome {
	return catalog.CancelOutcome{
		KitchenOrderID: req.KitchenOrderID,
		OrderID:        req.OrderID,
		TableID:        req.TableID,
		ItemID:         itemPtr(req.ItemID),
		Reason:         reason,
	}
}

func itemPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func describe(req Request) string {
	if req.ItemID != 0 {
		return fmt.Sprintf("item %d of order %s", req.ItemID, req.OrderID)
	}
	return "order " + req.OrderID
}
