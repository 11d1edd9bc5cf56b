// Package directory reads the restaurant reference data the state machines
// validate against: tables, menu items, staff and kitchen stations.
package directory

// Table statuses.
const (
	TableAvailable   = "available"
	TableOccupied    = "occupied"
	TableReserved    = "reserved"
	TableMaintenance = "maintenance"
)

// RoleChef is the only staff role allowed to own a kitchen ticket.
const RoleChef = "chef"

type Table struct {
	ID     int64
	Number string
	Status string
}

type MenuItem struct {
	ID        int64
	Name      string
	Price     float64
	Available bool
}

type Staff struct {
	ID       int64
	FullName string
	Role     string
}

type Station struct {
	ID   int64
	Name string
}
