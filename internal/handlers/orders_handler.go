package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/idempotency"
	"github.com/imrishuroy/go-orderflow-realtime/internal/kitchen"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/negotiation"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
	"github.com/imrishuroy/go-orderflow-realtime/internal/validation"
)

const jsonContentType = "application/json; charset=utf-8"

// HandlerConfig groups dependencies for the REST handlers.
type HandlerConfig struct {
	Orders      *orders.Service
	Kitchen     *kitchen.Service
	Negotiator  *negotiation.Negotiator
	Idempotency *idempotency.Store
	Validate    *validatorv10.Validate
	Log         *slog.Logger
}

func (cfg HandlerConfig) withDefaults() HandlerConfig {
	if cfg.Validate == nil {
		cfg.Validate = validation.New()
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard()
	}
	return cfg
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	cfg = cfg.withDefaults()
	v, log := cfg.Validate, cfg.Log

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		canonical, _ := json.Marshal(req)
		rec, owned, err := cfg.Idempotency.Begin(ctx, idempKey, idempotency.Fingerprint(canonical))
		if err != nil {
			writeError(c, log, err)
			return
		}
		if !owned {
			switch rec.Status {
			case idempotency.StatusDone:
				c.Header("Idempotent-Replay", "true")
				c.Data(rec.ResponseStatus, jsonContentType, []byte(rec.ResponseBody))
			case idempotency.StatusInProgress:
				c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
			}
			return
		}

		items := make([]orders.ItemInput, len(req.Items))
		for i, it := range req.Items {
			items[i] = orders.ItemInput{MenuItemID: it.MenuItemID, Quantity: it.Quantity, SpecialRequest: it.SpecialRequest}
		}
		o, err := cfg.Orders.Create(ctx, orders.CreateInput{
			TableID:        req.TableID,
			StaffID:        req.StaffID,
			Items:          items,
			DiscountAmount: req.DiscountAmount,
			TaxRate:        req.TaxRate,
			Notes:          req.Notes,
		})
		if err != nil {
			// mark failed so the client can retry with the same key
			if ferr := cfg.Idempotency.Fail(ctx, idempKey, err.Error()); ferr != nil {
				log.Error("mark idempotency failed", "action", "order_create", "idempotency_key", idempKey, "error", ferr)
			}
			writeError(c, log, err)
			return
		}

		body, err := json.Marshal(toOrderView(o))
		if err != nil {
			writeError(c, log, err)
			return
		}
		if err := cfg.Idempotency.Complete(ctx, idempKey, o.OrderID, string(body), http.StatusCreated); err != nil {
			log.Error("store idempotent response", "action", "order_create", "idempotency_key", idempKey, "order_id", o.OrderID, "error", err)
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", o.OrderID))
		c.Data(http.StatusCreated, jsonContentType, body)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toOrderView(o))
	})

	r.POST("/orders/:id/transition", func(c *gin.Context) {
		var req validation.TransitionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := cfg.Orders.Transition(c.Request.Context(), c.Param("id"), orders.Status(req.Status))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toOrderView(o))
	})

	r.POST("/orders/:id/items", func(c *gin.Context) {
		var req validation.AddItemsRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		items := make([]orders.ItemInput, len(req.Items))
		for i, it := range req.Items {
			items[i] = orders.ItemInput{MenuItemID: it.MenuItemID, Quantity: it.Quantity, SpecialRequest: it.SpecialRequest}
		}
		added, err := cfg.Orders.AddItems(c.Request.Context(), c.Param("id"), items)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order_id": c.Param("id"), "items": toItemViews(added)})
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		var req validation.CancelRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		res, err := cfg.Orders.Cancel(c.Request.Context(), c.Param("id"), req.Reason, req.StaffID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		if res.AwaitingKitchen {
			c.JSON(http.StatusAccepted, gin.H{"awaiting_kitchen": true, "order": toOrderView(res.Order)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"awaiting_kitchen": false, "order": toOrderView(res.Order)})
	})

	r.PATCH("/orders/:id/items/:itemId/status", func(c *gin.Context) {
		itemID, ok := itemParam(c)
		if !ok {
			return
		}
		var req validation.ItemStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		item, err := cfg.Orders.UpdateItemStatus(c.Request.Context(), c.Param("id"), itemID, orders.ItemStatus(req.Status))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toItemView(*item))
	})

	r.POST("/orders/:id/items/:itemId/cancel", func(c *gin.Context) {
		itemID, ok := itemParam(c)
		if !ok {
			return
		}
		var req validation.CancelRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		pending, err := cfg.Negotiator.RequestItemCancel(c.Request.Context(), c.Param("id"), itemID, req.Reason, req.StaffID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"awaiting_kitchen": true,
			"order_id":         pending.OrderID,
			"kitchen_order_id": pending.KitchenOrderID,
			"item_id":          pending.ItemID,
		})
	})
}

func itemParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("itemId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "msg": apperr.BadRequest("invalid item id %q", c.Param("itemId")).Error()})
		return 0, false
	}
	return id, true
}
