// Package ws is the live side of the fan-out: a room-based websocket hub.
// Clients subscribe to topics (status rooms, per-ticket rooms, the tenant
// channel) and receive every event the dispatcher delivers to those rooms.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is per-client. A client that falls this far behind is
	// disconnected; the dispatcher never waits for a slow reader.
	sendBuffer = 64
)

// controlFrame is what clients send: join/leave a topic.
type controlFrame struct {
	Action string `json:"action"` // "join" or "leave"
	Topic  string `json:"topic"`
}

type frame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	topics map[string]struct{}

	// closed guards against a double close of send. Guarded by hub.mu, and
	// only ever flipped by removeLocked — the single owner of the close.
	closed bool
}

// Hub tracks which client is in which room and broadcasts event payloads.
// It implements events.Sink, so the fan-out dispatcher delivers straight
// into it.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens in the JWT middleware before the upgrade;
			// origin enforcement belongs to the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// Deliver sends payload to every client in the topic's room. Non-blocking:
// a client whose buffer is full is dropped from the hub, so one stuck
// reader can never stall the dispatcher or starve other rooms.
//
// The whole pass runs under the write lock. Sends are buffered and never
// block, and holding the lock means a stuck client is removed and its send
// channel closed exactly once, no matter how many deliveries race on it.
func (h *Hub) Deliver(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[topic] {
		select {
		case c.send <- frame{Topic: topic, Payload: payload}:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("topic", topic))
			h.removeLocked(c)
		}
	}
}

// HandleWS upgrades the connection and runs the client pumps. Registered
// behind the auth middleware, so only authenticated agents get here.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBuffer),
		topics: make(map[string]struct{}),
	}

	go cl.writePump()
	cl.readPump()
}

func (h *Hub) join(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[topic] = room
	}
	room[c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) leave(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, topic)
}

func (h *Hub) leaveLocked(c *client, topic string) {
	if room, ok := h.rooms[topic]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
	delete(c.topics, topic)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked evicts the client from every room and closes its send
// channel. The closed flag makes the eviction idempotent: disconnect and a
// concurrent slow-client drop may both land here.
func (h *Hub) removeLocked(c *client) {
	for topic := range c.topics {
		h.leaveLocked(c, topic)
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// RoomSize reports the number of clients in a room.
func (h *Hub) RoomSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ctrl controlFrame
		if err := c.conn.ReadJSON(&ctrl); err != nil {
			return
		}
		switch ctrl.Action {
		case "join":
			if ctrl.Topic != "" {
				c.hub.join(c, ctrl.Topic)
			}
		case "leave":
			if ctrl.Topic != "" {
				c.hub.leave(c, ctrl.Topic)
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case fr, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(fr); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
