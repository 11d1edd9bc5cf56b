package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

// Inbound is the frame a client sends: {"event": "join:table", "data": {"tableId": 5}}.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type control struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type ackData struct {
	Event string     `json:"event"`
	Room  rooms.Room `json:"room,omitempty"`
}

type errorData struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type membershipData struct {
	TableID *int64 `json:"tableId"`
	OrderID string `json:"orderId"`
	StaffID *int64 `json:"staffId"`
	Room    string `json:"room"`
}

var errNoHandler = errors.New("unsupported event")

// Handle registers fn for an inbound subject. Registering the same subject
// twice replaces the earlier handler.
func (g *Gateway) Handle(subject string, fn HandlerFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[subject] = fn
}

// Dispatch serves one raw inbound frame from clientID and answers with an ack
// or error frame to that client only.
func (g *Gateway) Dispatch(ctx context.Context, clientID string, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		g.reply(clientID, control{Event: "error", Data: errorData{Message: "malformed frame"}})
		return
	}

	room, err := g.serve(ctx, clientID, in)
	if err != nil {
		g.log.Info("inbound event rejected", "action", "inbound", "client_id", clientID, "event", in.Event, "error", err)
		g.reply(clientID, control{Event: "error", Data: errorData{Event: in.Event, Message: err.Error()}})
		return
	}
	g.reply(clientID, control{Event: "ack", Data: ackData{Event: in.Event, Room: room}})
}

func (g *Gateway) serve(ctx context.Context, clientID string, in Inbound) (rooms.Room, error) {
	if verb, target, ok := strings.Cut(in.Event, ":"); ok && (verb == "join" || verb == "leave") {
		room, err := membershipRoom(target, in.Data)
		if err != nil {
			return "", err
		}
		if verb == "join" {
			return room, g.Join(clientID, room)
		}
		return room, g.Leave(clientID, room)
	}

	g.mu.RLock()
	fn, ok := g.handlers[in.Event]
	g.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", errNoHandler, in.Event)
	}
	return "", fn(ctx, clientID, in.Data)
}

func membershipRoom(target string, data json.RawMessage) (rooms.Room, error) {
	var d membershipData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return "", fmt.Errorf("decode %s membership: %w", target, err)
		}
	}
	switch target {
	case "kitchen":
		return rooms.RoomFor(rooms.Kitchen()), nil
	case "waiters":
		return rooms.RoomFor(rooms.Waiters()), nil
	case "table":
		if d.TableID == nil {
			return "", errors.New("tableId is required")
		}
		return rooms.RoomFor(rooms.Table(*d.TableID)), nil
	case "order":
		if d.OrderID == "" {
			return "", errors.New("orderId is required")
		}
		return rooms.RoomFor(rooms.Order(d.OrderID)), nil
	case "staff", "waiter":
		if d.StaffID == nil {
			return "", errors.New("staffId is required")
		}
		return rooms.RoomFor(rooms.Staff(*d.StaffID)), nil
	case "room":
		return rooms.Parse(d.Room)
	}
	return "", fmt.Errorf("unknown membership target %q", target)
}

func (g *Gateway) reply(clientID string, msg control) {
	frame, err := json.Marshal(msg)
	if err != nil {
		g.log.Error("encode control frame failed", "action", "inbound", "client_id", clientID, "error", err)
		return
	}
	g.mu.RLock()
	m, ok := g.clients[clientID]
	g.mu.RUnlock()
	if ok {
		m.client.Send(frame)
	}
}
