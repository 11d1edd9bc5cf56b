package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxInboundFrame = 64 << 10

type WSConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func (c WSConfig) withDefaults() WSConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	return c
}

type wsConn struct {
	id   string
	wc   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() { c.once.Do(func() { close(c.done) }) }

// ServeWS upgrades the request and serves the connection until it closes.
// The client starts with no room memberships.
func (g *Gateway) ServeWS(cfg WSConfig) http.HandlerFunc {
	cfg = cfg.withDefaults()
	upgr := &websocket.Upgrader{CheckOrigin: cfg.CheckOrigin}
	return func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("websocket upgrade failed", "action", "ws_connect", "error", err)
			return
		}
		c := &wsConn{
			id:   uuid.NewString(),
			wc:   wc,
			send: make(chan []byte, cfg.SendBuffer),
			done: make(chan struct{}),
		}
		g.Register(c)
		g.log.Info("client connected", "action", "ws_connect", "client_id", c.id, "remote", r.RemoteAddr)

		hello, _ := json.Marshal(control{Event: "connected", Data: map[string]string{"clientId": c.id}})
		c.Send(hello)

		go g.writeLoop(c, cfg)
		err = g.readLoop(r.Context(), c, cfg)
		c.close()
		g.Unregister(c.id)
		if err != nil {
			g.log.Info("client read ended", "action", "ws_disconnect", "client_id", c.id, "error", err)
		} else {
			g.log.Info("client disconnected", "action", "ws_disconnect", "client_id", c.id)
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *wsConn, cfg WSConfig) error {
	c.wc.SetReadLimit(maxInboundFrame)
	deadline := func() time.Time { return time.Now().Add(2 * cfg.PingInterval) }
	c.wc.SetReadDeadline(deadline())
	c.wc.SetPongHandler(func(string) error {
		return c.wc.SetReadDeadline(deadline())
	})
	for {
		op, data, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if op != websocket.TextMessage {
			continue
		}
		c.wc.SetReadDeadline(deadline())
		g.Dispatch(ctx, c.id, data)
	}
}

func (g *Gateway) writeLoop(c *wsConn, cfg WSConfig) {
	t := time.NewTicker(cfg.PingInterval)
	defer func() {
		t.Stop()
		c.wc.Close()
	}()
	for {
		select {
		case <-c.done:
			c.wc.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.wc.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.log.Info("client write failed", "action", "ws_write", "client_id", c.id, "error", err)
				c.close()
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
