package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/gateway"
	"github.com/imrishuroy/go-orderflow-realtime/internal/negotiation"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
	"github.com/imrishuroy/go-orderflow-realtime/internal/validation"
)

// RegisterKitchenRoutes registers routes for the kitchen display API.
func RegisterKitchenRoutes(r *gin.Engine, cfg HandlerConfig) {
	cfg = cfg.withDefaults()
	v, log := cfg.Validate, cfg.Log
	ks := cfg.Kitchen

	respond := func(c *gin.Context, k *orders.KitchenOrder, err error) {
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toKitchenView(k))
	}

	r.GET("/kitchen/orders/:id", func(c *gin.Context) {
		k, err := ks.Get(c.Request.Context(), c.Param("id"))
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/start", func(c *gin.Context) {
		var req validation.StartRequest
		if c.Request.ContentLength != 0 {
			if err := validation.BindAndValidate(c, &req, v); err != nil {
				return
			}
		}
		k, err := ks.Start(c.Request.Context(), c.Param("id"), req.StaffID)
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/complete", func(c *gin.Context) {
		k, err := ks.Complete(c.Request.Context(), c.Param("id"))
		respond(c, k, err)
	})

	r.PATCH("/kitchen/orders/:id/status", func(c *gin.Context) {
		var req validation.KitchenStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		k, err := ks.UpdateStatus(c.Request.Context(), c.Param("id"), orders.KitchenStatus(req.Status), req.ChefID)
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/chef", func(c *gin.Context) {
		var req validation.AssignChefRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		k, err := ks.AssignChef(c.Request.Context(), c.Param("id"), req.StaffID)
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/station", func(c *gin.Context) {
		var req validation.AssignStationRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		k, err := ks.AssignStation(c.Request.Context(), c.Param("id"), req.StationID)
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/priority", func(c *gin.Context) {
		var req validation.PriorityRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		k, err := ks.SetPriority(c.Request.Context(), c.Param("id"), orders.Priority(req.Priority))
		respond(c, k, err)
	})

	r.POST("/kitchen/orders/:id/cancel-response", func(c *gin.Context) {
		var req validation.CancelResponseRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		out, err := cfg.Negotiator.Resolve(c.Request.Context(), negotiation.Resolution{
			KitchenOrderID: c.Param("id"),
			ItemID:         req.ItemID,
			Accepted:       *req.Accepted,
			Reason:         req.Reason,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		resp := gin.H{"accepted": out.Accepted, "reason": out.Reason, "order_id": out.Request.OrderID}
		if out.Order != nil {
			resp["order"] = toOrderView(out.Order)
		}
		c.JSON(http.StatusOK, resp)
	})
}

// cancelResponseFrame is the websocket spelling of CancelResponseRequest.
type cancelResponseFrame struct {
	KitchenOrderID string `json:"kitchenOrderId" validate:"required"`
	ItemID         int64  `json:"itemId,omitempty" validate:"gte=0"`
	Accepted       *bool  `json:"accepted" validate:"required"`
	Reason         string `json:"reason,omitempty" validate:"max=500"`
}

// CancelResponseHandler serves kitchen:cancel_response frames sent over the
// websocket.
func CancelResponseHandler(neg *negotiation.Negotiator, v *validatorv10.Validate) gateway.HandlerFunc {
	if v == nil {
		v = validation.New()
	}
	return func(ctx context.Context, clientID string, data json.RawMessage) error {
		var msg cancelResponseFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.BadRequest("malformed cancel response: %v", err)
		}
		if err := v.Struct(msg); err != nil {
			return apperr.BadRequest("invalid cancel response: %v", err)
		}
		_, err := neg.Resolve(ctx, negotiation.Resolution{
			KitchenOrderID: msg.KitchenOrderID,
			ItemID:         msg.ItemID,
			Accepted:       *msg.Accepted,
			Reason:         msg.Reason,
		})
		return err
	}
}
