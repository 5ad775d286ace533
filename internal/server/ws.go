package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is the event envelope pushed to monitor clients. The UI switches
// on `type` ("sample", "state", "config") and treats `data` as an arbitrary
// JSON object.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsClient pairs a connection with its write mutex. Gorilla WebSocket
// forbids concurrent writes on one Conn.
type wsClient struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// WSHub fans messages out to the connected monitor clients. The monitor is
// local and single-user, so an in-memory set behind one lock is enough.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]struct{})}
}

func (h *WSHub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast marshals msg once and writes the raw bytes to every client.
// Write failures are ignored here; the read loop in handleWS notices the
// dead connection and removes it, which keeps the publish path fast.
func (h *WSHub) Broadcast(msg WSMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.wmu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, raw)
		c.wmu.Unlock()
	}
}

// CheckOrigin accepts everything to keep localhost use frictionless.
// Restrict it if the monitor is ever exposed beyond the host.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS upgrades, registers, and then only reads. Incoming messages are
// discarded; the read loop exists to detect disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := s.hub.add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(c)
			return
		}
	}
}
