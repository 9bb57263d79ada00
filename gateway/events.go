package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/metric"
)

// Connection tuning for event stream clients
const (
	clientSendBuffer = 16
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 512
)

// Event is one request lifecycle notification broadcast to event stream
// clients
type Event struct {
	CorrelationID string    `json:"correlation_id"`
	Operation     string    `json:"operation,omitempty"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

// Hub fans request lifecycle events out to connected websocket clients.
// Delivery is best effort: a client whose send queue is full misses the
// event rather than stalling the hub or the other clients.
type Hub struct {
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an event hub. Both arguments may be nil.
func NewHub(logger *slog.Logger, metrics *metric.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "events"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish broadcasts the event to every connected client
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; this client misses the event.
		}
	}
}

// ResultHook adapts the hub for the orchestrator's result callback. Every
// result the orchestrator sees is broadcast, including late ones whose
// caller already timed out.
func (h *Hub) ResultHook() func(envelope.Result) {
	return func(res envelope.Result) {
		h.Publish(Event{
			CorrelationID: res.CorrelationID,
			Operation:     res.Operation,
			Status:        string(res.Status),
			At:            time.Now().UTC(),
		})
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	h.logger.Debug("event client connected", "remote", r.RemoteAddr)
	go c.writePump()
	c.readPump(h)
	h.logger.Debug("event client disconnected", "remote", r.RemoteAddr)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.setGauge()
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.setGauge()
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.setGauge()
}

// setGauge is called with h.mu held
func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.SetEventClients(len(h.clients))
	}
}

// readPump discards inbound frames and watches for disconnect. Clients
// only listen; reading is still required to process control frames.
func (c *hubClient) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
