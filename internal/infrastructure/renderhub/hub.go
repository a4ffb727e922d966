// Package renderhub pushes a tiny notification over WebSocket the instant
// a new render job is published, so a browser client need not busy-poll
// GET /render_job at high frequency. GET /render_job remains the source
// of truth; this hub is a latency optimization layered on top of it.
package renderhub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type pingMsg struct {
	Seq int64 `json:"seq"`
}

type client struct {
	conn *websocket.Conn
	send chan pingMsg
}

// Hub fans out a {"seq": N} message to every connected client on each
// PushSeq call. It accepts no messages from clients beyond the initial
// upgrade and carries no message type other than the seq ping.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *zap.Logger
}

// New builds an empty Hub.
func New(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// ServeWS upgrades the connection and registers it for future pings.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("render hub upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan pingMsg, 8)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c) // drains/ignores any client frames, detects disconnect
}

// PushSeq notifies every connected client that seq has just been
// published. Non-blocking per client: a client that is not keeping up
// simply misses a ping and will pick up the new job on its next GET
// /render_job poll.
func (h *Hub) PushSeq(seq int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- pingMsg{Seq: seq}:
		default:
		}
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
