package api

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ernie/trinity-replay/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient is a dashboard connection receiving round events
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	rounds     map[int64]bool // nil follows every round
}

func (c *WebSocketClient) follows(roundID int64) bool {
	return c.rounds == nil || c.rounds[roundID]
}

// roundMessage is an encoded event and the round it belongs to
type roundMessage struct {
	roundID int64
	data    []byte
}

// WebSocketHub fans round events out to the dashboard connections following
// each round
type WebSocketHub struct {
	mu         sync.RWMutex
	clients    map[*WebSocketClient]bool
	events     chan roundMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		events:     make(chan roundMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
	}
}

// Run owns client membership and delivery
func (h *WebSocketHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			if c.rounds == nil {
				log.Printf("Dashboard %s following all rounds (%d connected)", c.remoteAddr, total)
			} else {
				log.Printf("Dashboard %s following %d rounds (%d connected)", c.remoteAddr, len(c.rounds), total)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Dashboard %s disconnected (%d connected)", c.remoteAddr, total)

		case msg := <-h.events:
			h.mu.Lock()
			for c := range h.clients {
				if !c.follows(msg.roundID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					log.Printf("Warning: dashboard %s too slow, disconnecting", c.remoteAddr)
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client and closes its queue. Callers hold h.mu.
func (h *WebSocketHub) drop(c *WebSocketClient) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues an event for every client following its round
func (h *WebSocketHub) Broadcast(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", event.Type, err)
		return
	}

	select {
	case h.events <- roundMessage{roundID: event.RoundID, data: data}:
	default:
		log.Printf("Warning: event queue full, dropping %s for round %d", event.Type, event.RoundID)
	}
}

// ClientCount returns the number of connected dashboards
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades a dashboard connection. The optional rounds query
// parameter restricts it to a comma separated list of round ids.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	rounds, err := parseRoundFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &WebSocketClient{
		hub:        r.wsHub,
		conn:       conn,
		send:       make(chan []byte, 256),
		remoteAddr: getClientIP(req),
		rounds:     rounds,
	}
	r.wsHub.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards client frames; it only exists to notice the close
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("Dashboard %s read error: %v", c.remoteAddr, err)
			}
			return
		}
	}
}

// writePump sends one event per frame and pings while idle
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
