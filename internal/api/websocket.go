package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"esports-insights/internal/observability"

	"github.com/gorilla/websocket"
)

// Websocket events pushed to dashboards
const (
	EventReviewQueue  = "review:queue"
	EventSignalNew    = "signal:new"
	EventIngestStatus = "ingest:status"
)

const (
	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// DefaultMaxWSConnections caps total connections when unset
	DefaultMaxWSConnections = 500

	wsSendBuffer = 64
	wsWriteWait  = 5 * time.Second
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// WebSocketHub fans pipeline updates out to connected dashboards.
// Each client has one writer goroutine fed by a buffered channel; a client
// that falls behind is dropped.
type WebSocketHub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter
	maxTotal  int

	// greeting builds the messages a client gets right after connecting
	greeting func() [][]byte
}

// NewWebSocketHub creates a hub. Run must be called before clients connect.
func NewWebSocketHub(origins OriginPolicy, maxTotal int) *WebSocketHub {
	if maxTotal <= 0 {
		maxTotal = DefaultMaxWSConnections
	}
	h := &WebSocketHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		maxTotal:   maxTotal,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			observability.RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// SetGreeting sets the snapshot sent to each new client
func (h *WebSocketHub) SetGreeting(fn func() [][]byte) {
	h.greeting = fn
}

// Run processes registrations and broadcasts until Stop
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			observability.UpdateWSConnections(count)

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("📱 Client disconnected (%d remaining)", count)
			observability.UpdateWSConnections(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Printf("⚠️ Dropping slow websocket client %s", c.ip)
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()
			observability.IncrementWSMessages()
		}
	}
}

// dropLocked removes c; its writer goroutine closes the connection
func (h *WebSocketHub) dropLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.wsLimiter.Release(c.ip)
}

// Stop disconnects every client and ends Run
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Encode wraps data in the {"event","data"} envelope
func Encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"event": event,
		"data":  data,
	})
}

// Broadcast sends a message to all connected clients. Drops it when the hub is backed up.
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg, err := Encode(event, data)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s: %v", event, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the client
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= h.maxTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		observability.RecordConnectionRejected("ws_total_limit")
		writeError(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		observability.RecordConnectionRejected("ws_ip_limit")
		writeError(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip)
		return
	}

	client := &wsClient{conn: conn, ip: ip, send: make(chan []byte, wsSendBuffer)}
	if h.greeting != nil {
		for _, msg := range h.greeting() {
			client.send <- msg
		}
	}
	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *WebSocketHub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}

// readLoop drains client frames; dashboards only listen
func (h *WebSocketHub) readLoop(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stop:
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
