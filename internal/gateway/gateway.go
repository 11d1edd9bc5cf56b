// Package gateway is the event bus: it tracks connected clients and their room
// memberships and fans catalog events out to them and to external relays.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

// Client is one connected subscriber. Send must not block; it reports false
// when the frame could not be queued.
type Client interface {
	ID() string
	Send(frame []byte) bool
}

// Relay mirrors every room delivery to an out of process sink.
type Relay interface {
	Name() string
	Relay(ctx context.Context, room rooms.Room, env catalog.Envelope, frame []byte) error
}

// Counter is satisfied by *aws.Metrics.
type Counter interface {
	Incr(name string, dims ...string)
}

// HandlerFunc serves an inbound client message that is not a membership call.
type HandlerFunc func(ctx context.Context, clientID string, data json.RawMessage) error

type Options struct {
	Log     *slog.Logger
	Metrics Counter
	Relays  []Relay
	// RelayBuffer queues relay work for RunRelays instead of relaying on the
	// publishing goroutine. Zero relays inline.
	RelayBuffer int
	NowFunc     func() time.Time
	NewID       func() string
}

type Gateway struct {
	log     *slog.Logger
	metrics Counter
	relays  []Relay
	queue   chan relayJob
	nowFunc func() time.Time
	newID   func() string

	mu       sync.RWMutex
	clients  map[string]*member
	rooms    map[rooms.Room]map[string]struct{}
	handlers map[string]HandlerFunc
}

type relayJob struct {
	room  rooms.Room
	env   catalog.Envelope
	frame []byte
}

type member struct {
	client Client
	rooms  map[rooms.Room]struct{}
}

func New(opts Options) *Gateway {
	g := &Gateway{
		log:      opts.Log,
		metrics:  opts.Metrics,
		relays:   opts.Relays,
		nowFunc:  opts.NowFunc,
		newID:    opts.NewID,
		clients:  map[string]*member{},
		rooms:    map[rooms.Room]map[string]struct{}{},
		handlers: map[string]HandlerFunc{},
	}
	if g.log == nil {
		g.log = logging.Discard()
	}
	if g.nowFunc == nil {
		g.nowFunc = time.Now
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	if opts.RelayBuffer > 0 && len(g.relays) > 0 {
		g.queue = make(chan relayJob, opts.RelayBuffer)
	}
	return g
}

// RunRelays drains the relay queue until ctx is done, then relays whatever is
// still queued. It returns at once when relays run inline.
func (g *Gateway) RunRelays(ctx context.Context) error {
	if g.queue == nil {
		return nil
	}
	for {
		select {
		case job := <-g.queue:
			g.relay(ctx, job)
		case <-ctx.Done():
			g.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (g *Gateway) drain(ctx context.Context) {
	for {
		select {
		case job := <-g.queue:
			g.relay(ctx, job)
		default:
			return
		}
	}
}

// Register adds a client without joining it to any room.
func (g *Gateway) Register(c Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c.ID()] = &member{client: c, rooms: map[rooms.Room]struct{}{}}
	g.incr("ClientsConnected")
}

// Unregister drops the client and all of its memberships.
func (g *Gateway) Unregister(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.clients[clientID]
	if !ok {
		return
	}
	for r := range m.rooms {
		g.removeFromRoom(r, clientID)
	}
	delete(g.clients, clientID)
}

func (g *Gateway) Join(clientID string, room rooms.Room) error {
	if room == "" {
		return fmt.Errorf("join: empty room")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.clients[clientID]
	if !ok {
		return fmt.Errorf("join %s: unknown client %s", room, clientID)
	}
	m.rooms[room] = struct{}{}
	set, ok := g.rooms[room]
	if !ok {
		set = map[string]struct{}{}
		g.rooms[room] = set
	}
	set[clientID] = struct{}{}
	return nil
}

func (g *Gateway) Leave(clientID string, room rooms.Room) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.clients[clientID]
	if !ok {
		return fmt.Errorf("leave %s: unknown client %s", room, clientID)
	}
	delete(m.rooms, room)
	g.removeFromRoom(room, clientID)
	return nil
}

func (g *Gateway) removeFromRoom(room rooms.Room, clientID string) {
	set := g.rooms[room]
	delete(set, clientID)
	if len(set) == 0 {
		delete(g.rooms, room)
	}
}

// Members returns the sorted client ids in room.
func (g *Gateway) Members(room rooms.Room) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.rooms[room]))
	for id := range g.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RoomsOf returns the sorted rooms clientID belongs to.
func (g *Gateway) RoomsOf(clientID string) []rooms.Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]rooms.Room, 0, len(m.rooms))
	for r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Publish sends p to every audience the catalog declares for it. All room
// deliveries share one envelope id.
func (g *Gateway) Publish(ctx context.Context, p catalog.Payload) {
	id, ts := g.newID(), g.nowFunc().UTC()
	for _, d := range p.Deliveries() {
		env := catalog.Envelope{ID: id, Event: d.Event, Data: p, Timestamp: ts}
		if d.Audience.Kind == rooms.KindAll {
			g.deliver(ctx, rooms.RoomFor(d.Audience), env, g.everyone())
			continue
		}
		room := rooms.RoomFor(d.Audience)
		g.deliver(ctx, room, env, g.inRoom(room))
	}
}

func (g *Gateway) EmitToRoom(ctx context.Context, room rooms.Room, name catalog.Name, p catalog.Payload) {
	g.deliver(ctx, room, g.envelope(name, p), g.inRoom(room))
}

// EmitToAll reaches every connected client regardless of membership.
func (g *Gateway) EmitToAll(ctx context.Context, name catalog.Name, p catalog.Payload) {
	g.deliver(ctx, rooms.RoomFor(rooms.All()), g.envelope(name, p), g.everyone())
}

// EmitToClient sends to a single client and bypasses the relays.
func (g *Gateway) EmitToClient(ctx context.Context, clientID string, name catalog.Name, p catalog.Payload) {
	env := g.envelope(name, p)
	frame, err := json.Marshal(env)
	if err != nil {
		g.log.Error("encode event failed", "action", "emit_client", "event", name, "error", err)
		g.incr("EventEncodeFailures", "event", string(name))
		return
	}
	g.mu.RLock()
	m, ok := g.clients[clientID]
	g.mu.RUnlock()
	if !ok {
		g.log.Warn("emit to unknown client", "action", "emit_client", "client_id", clientID, "event", name)
		return
	}
	g.send(m.client, frame, env)
}

func (g *Gateway) envelope(name catalog.Name, p catalog.Payload) catalog.Envelope {
	return catalog.Envelope{ID: g.newID(), Event: name, Data: p, Timestamp: g.nowFunc().UTC()}
}

func (g *Gateway) inRoom(room rooms.Room) []Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Client, 0, len(g.rooms[room]))
	for id := range g.rooms[room] {
		out = append(out, g.clients[id].client)
	}
	return out
}

func (g *Gateway) everyone() []Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Client, 0, len(g.clients))
	for _, m := range g.clients {
		out = append(out, m.client)
	}
	return out
}

// deliver never fails: encode, client and relay errors are logged and counted.
func (g *Gateway) deliver(ctx context.Context, room rooms.Room, env catalog.Envelope, targets []Client) {
	frame, err := json.Marshal(env)
	if err != nil {
		g.log.Error("encode event failed", "action", "emit", "event", env.Event, "room", room, "error", err)
		g.incr("EventEncodeFailures", "event", string(env.Event))
		return
	}
	for _, c := range targets {
		g.send(c, frame, env)
	}
	g.enqueue(ctx, relayJob{room: room, env: env, frame: frame})
	g.log.Debug("event emitted", "action", "emit", "event", env.Event, "room", room, "event_id", env.ID, "clients", len(targets))
	g.incr("EventsEmitted", "event", string(env.Event))
}

// enqueue hands a delivery to the relay worker, dropping it when the queue is
// full. Without a queue the relays run here.
func (g *Gateway) enqueue(ctx context.Context, job relayJob) {
	if len(g.relays) == 0 {
		return
	}
	if g.queue == nil {
		g.relay(ctx, job)
		return
	}
	select {
	case g.queue <- job:
	default:
		g.log.Warn("relay queue full", "action", "relay", "event", job.env.Event, "room", job.room, "event_id", job.env.ID)
		g.incr("RelayDropped", "event", string(job.env.Event))
	}
}

func (g *Gateway) relay(ctx context.Context, job relayJob) {
	for _, r := range g.relays {
		if err := r.Relay(ctx, job.room, job.env, job.frame); err != nil {
			g.log.Error("relay event failed", "action", "relay", "relay", r.Name(), "event", job.env.Event, "room", job.room, "event_id", job.env.ID, "error", err)
			g.incr("RelayFailures", "relay", r.Name())
		}
	}
}

func (g *Gateway) send(c Client, frame []byte, env catalog.Envelope) {
	if !c.Send(frame) {
		g.log.Warn("client dropped event", "action", "emit", "client_id", c.ID(), "event", env.Event, "event_id", env.ID)
		g.incr("EventsDropped", "event", string(env.Event))
	}
}

func (g *Gateway) incr(name string, dims ...string) {
	if g.metrics != nil {
		g.metrics.Incr(name, dims...)
	}
}
