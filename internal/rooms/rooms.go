// Package rooms maps logical audiences to transport room identifiers.
package rooms

import (
	"fmt"
	"strconv"
	"strings"
)

// Room is a transport level broadcast group name.
type Room string

// Kind enumerates the audiences the event core can address.
type Kind int

const (
	KindKitchen Kind = iota + 1
	KindWaiters
	KindAll
	KindTable
	KindOrder
	KindStaff
)

func (k Kind) String() string {
	switch k {
	case KindKitchen:
		return "kitchen"
	case KindWaiters:
		return "waiters"
	case KindAll:
		return "all"
	case KindTable:
		return "table"
	case KindOrder:
		return "order"
	case KindStaff:
		return "staff"
	}
	return "unknown"
}

// Audience is a logical recipient set. ID is only meaningful for table, order
// and staff audiences.
type Audience struct {
	Kind Kind
	ID   string
}

func Kitchen() Audience { return Audience{Kind: KindKitchen} }
func Waiters() Audience { return Audience{Kind: KindWaiters} }
func All() Audience     { return Audience{Kind: KindAll} }

func Table(tableID int64) Audience {
	return Audience{Kind: KindTable, ID: strconv.FormatInt(tableID, 10)}
}

func Order(orderID string) Audience { return Audience{Kind: KindOrder, ID: orderID} }

func Staff(staffID int64) Audience {
	return Audience{Kind: KindStaff, ID: strconv.FormatInt(staffID, 10)}
}

// RoomFor is total over the declared kinds; a zero Audience maps to "".
func RoomFor(a Audience) Room {
	switch a.Kind {
	case KindKitchen:
		return "kitchen"
	case KindWaiters:
		return "waiters"
	case KindAll:
		return "all"
	case KindTable, KindOrder, KindStaff:
		return Room(a.Kind.String() + ":" + a.ID)
	}
	return ""
}

// Parse accepts a room name in either the "table:5" or the "table-5" form and
// returns its canonical colon form.
func Parse(s string) (Room, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "kitchen", "waiters", "all":
		return Room(s), nil
	}
	for _, k := range []Kind{KindTable, KindOrder, KindStaff} {
		prefix := k.String()
		if !strings.HasPrefix(s, prefix) || len(s) <= len(prefix)+1 {
			continue
		}
		sep, id := s[len(prefix)], s[len(prefix)+1:]
		if sep != ':' && sep != '-' {
			continue
		}
		if k != KindOrder {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				return "", fmt.Errorf("room %q: %s id must be numeric", s, prefix)
			}
		}
		return RoomFor(Audience{Kind: k, ID: id}), nil
	}
	return "", fmt.Errorf("unknown room %q", s)
}
