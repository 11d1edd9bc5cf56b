package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

// New returns a validator with the domain enum tags and struct-level rules
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		_, ok := orders.ParseStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("item_status", func(fl validatorv10.FieldLevel) bool {
		_, ok := orders.ParseItemStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("kitchen_status", func(fl validatorv10.FieldLevel) bool {
		_, ok := orders.ParseKitchenStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("priority", func(fl validatorv10.FieldLevel) bool {
		_, ok := orders.ParsePriority(fl.Field().String())
		return ok
	})

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	v.RegisterStructValidation(kitchenCommandStructValidation, KitchenCommand{})
	return v
}

// createOrderStructValidation rejects repeated lines for the same menu item
// and special request; the client should send one line with a quantity.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	type line struct {
		menuItemID int64
		request    string
	}
	seen := make(map[line]bool, len(req.Items))
	for _, it := range req.Items {
		l := line{it.MenuItemID, it.SpecialRequest}
		if seen[l] {
			sl.ReportError(req.Items, "items", "Items", "unique_lines", fmt.Sprintf("menu item %d listed twice", it.MenuItemID))
			return
		}
		seen[l] = true
	}
}

// kitchenCommandStructValidation requires the argument each command needs.
func kitchenCommandStructValidation(sl validatorv10.StructLevel) {
	cmd := sl.Current().Interface().(KitchenCommand)
	switch cmd.Command {
	case CommandStatus:
		if cmd.Status == "" {
			sl.ReportError(cmd.Status, "status", "Status", "required_for_command", cmd.Command)
		}
	case CommandPriority:
		if cmd.Priority == "" {
			sl.ReportError(cmd.Priority, "priority", "Priority", "required_for_command", cmd.Command)
		}
	case CommandStation:
		if cmd.StationID == 0 {
			sl.ReportError(cmd.StationID, "station_id", "StationID", "required_for_command", cmd.Command)
		}
	case CommandChef:
		if cmd.StaffID == nil {
			sl.ReportError(cmd.StaffID, "staff_id", "StaffID", "required_for_command", cmd.Command)
		}
	}
}
