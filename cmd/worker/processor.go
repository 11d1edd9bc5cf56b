package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
	"github.com/imrishuroy/go-orderflow-realtime/internal/validation"
)

// KitchenCommands is the part of the kitchen state machine a display can drive.
type KitchenCommands interface {
	Start(ctx context.Context, kitchenOrderID string, staffID *int64) (*orders.KitchenOrder, error)
	Complete(ctx context.Context, kitchenOrderID string) (*orders.KitchenOrder, error)
	UpdateStatus(ctx context.Context, kitchenOrderID string, target orders.KitchenStatus, chefID *int64) (*orders.KitchenOrder, error)
	SetPriority(ctx context.Context, kitchenOrderID string, p orders.Priority) (*orders.KitchenOrder, error)
	AssignStation(ctx context.Context, kitchenOrderID string, stationID int64) (*orders.KitchenOrder, error)
	AssignChef(ctx context.Context, kitchenOrderID string, staffID int64) (*orders.KitchenOrder, error)
}

// Processor applies kitchen display commands delivered through SQS.
type Processor struct {
	kitchen  KitchenCommands
	validate *validatorv10.Validate
	log      *slog.Logger
}

func NewProcessor(k KitchenCommands, log *slog.Logger) *Processor {
	return &Processor{kitchen: k, validate: validation.New(), log: log}
}

// Handle processes a batch and reports the messages that should be retried.
// Commands the state machine refuses are logged and dropped: SQS redelivers
// at least once, so a replayed command is expected to be refused.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		switch {
		case err == nil:
		case apperr.IsBadRequest(err) || apperr.IsNotFound(err):
			p.log.Warn("command dropped", "action", "kitchen_command", "message_id", rec.MessageId, "error", err)
		default:
			p.log.Error("command failed", "action", "kitchen_command", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var cmd validation.KitchenCommand
	if err := json.Unmarshal([]byte(rec.Body), &cmd); err != nil {
		return apperr.BadRequest("invalid message body: %v", err)
	}
	if err := p.validate.Struct(cmd); err != nil {
		return apperr.BadRequest("invalid command: %v", validation.FieldErrors(err))
	}

	p.log.Info("received command", "action", "kitchen_command", "command", cmd.Command, "kitchen_order_id", cmd.KitchenOrderID)

	var (
		k   *orders.KitchenOrder
		err error
	)
	switch cmd.Command {
	case validation.CommandStart:
		k, err = p.kitchen.Start(ctx, cmd.KitchenOrderID, cmd.StaffID)
	case validation.CommandComplete:
		k, err = p.kitchen.Complete(ctx, cmd.KitchenOrderID)
	case validation.CommandStatus:
		k, err = p.kitchen.UpdateStatus(ctx, cmd.KitchenOrderID, orders.KitchenStatus(cmd.Status), cmd.StaffID)
	case validation.CommandPriority:
		k, err = p.kitchen.SetPriority(ctx, cmd.KitchenOrderID, orders.Priority(cmd.Priority))
	case validation.CommandStation:
		k, err = p.kitchen.AssignStation(ctx, cmd.KitchenOrderID, cmd.StationID)
	case validation.CommandChef:
		k, err = p.kitchen.AssignChef(ctx, cmd.KitchenOrderID, *cmd.StaffID)
	default:
		return apperr.BadRequest("unknown command %q", cmd.Command)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Command, cmd.KitchenOrderID, err)
	}

	p.log.Info("command applied", "action", "kitchen_command", "command", cmd.Command, "kitchen_order_id", k.KitchenOrderID, "status", k.Status)
	return nil
}
