package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fleetwatch/internal/auth"
	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/logging"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribeDevice   = "subscribe:device"
	WSTypeUnsubscribeDevice = "unsubscribe:device"
	WSTypeSubscribeAlerts   = "subscribe:alerts"
	WSTypeUnsubscribeAlerts = "unsubscribe:alerts"
	WSTypePing              = "ping"
	WSTypePong              = "pong"
	WSTypeEvent             = "event"
	WSTypeResponse          = "response"
	WSTypeError             = "error"

	// defaultSendBuffer is the per-client outbound queue length when
	// websocket.send_buffer is unset.
	defaultSendBuffer = 256
)

var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_ws_clients",
		Help: "Connected WebSocket clients.",
	})
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_ws_messages_dropped_total",
		Help: "Events dropped because a client's send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(wsClients, wsDropped)
}

// WSMessage is the envelope for every frame in either direction.
// Event is set on server-pushed events and carries the bus event name.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// outboundMessage is WSMessage with an arbitrary payload, marshalled once.
type outboundMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// WSDevicePayload is the payload of subscribe:device and unsubscribe:device.
type WSDevicePayload struct {
	DeviceID string `json:"deviceId"`
}

// Hub tracks connected WebSocket clients and delivers bus events to them.
// It implements bus.Publisher.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

var _ bus.Publisher = (*Hub)(nil)

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	// userID is empty for anonymous connections.
	userID string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	wsClients.Inc()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount(), "user_id", client.userID)
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		wsClients.Dec()
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Publish delivers an event to every client in its scope. It never blocks:
// a client whose buffer is full misses the event.
func (h *Hub) Publish(event bus.Event) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	data, err := json.Marshal(outboundMessage{
		Type:      WSTypeEvent,
		Event:     event.Name,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Payload:   event.Payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event.Name, "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	channel := event.Scope.Channel()
	sent := 0
	for _, client := range clients {
		if !event.Scope.Broadcast() && !client.isSubscribed(channel) {
			continue
		}
		if client.trySend(data) {
			sent++
		} else {
			wsDropped.Inc()
		}
	}
	if sent > 0 {
		h.logger.Debug("event delivered", "event", event.Name, "scope", event.Scope.String(), "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
		wsClients.Dec()
	}
}

func (h *Hub) sendBuffer() int {
	if h.cfg.SendBuffer > 0 {
		return h.cfg.SendBuffer
	}
	return defaultSendBuffer
}

// newClient builds a client. Authenticated clients start in their user channel.
func (h *Hub) newClient(conn *websocket.Conn, userID string) *WSClient {
	c := &WSClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, h.sendBuffer()),
		subscriptions: make(map[string]struct{}),
		userID:        userID,
	}
	if userID != "" {
		c.subscriptions[bus.UserChannel(userID)] = struct{}{}
	}
	return c
}

// handleWebSocket upgrades the connection. A credential is optional: it
// may be given as ?token= or an Authorization bearer header. A credential
// that is present but invalid is refused with 401 before upgrading.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	var userID string
	if token != "" {
		claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		userID = claims.Identity()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn, userID)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// keepalive returns the ping interval and pong wait, defaulting unset values.
func keepalive(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = 10 * time.Second
	}
	return pingInterval, pongWait
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := keepalive(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := keepalive(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming control message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribeDevice, WSTypeUnsubscribeDevice:
		var p WSDevicePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil || p.DeviceID == "" {
			c.sendError(msg.ID, "deviceId is required")
			return
		}
		c.toggle(msg, bus.DeviceChannel(p.DeviceID), msg.Type == WSTypeSubscribeDevice)
	case WSTypeSubscribeAlerts:
		c.toggle(msg, bus.ChannelAlerts, true)
	case WSTypeUnsubscribeAlerts:
		c.toggle(msg, bus.ChannelAlerts, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// toggle joins or leaves a channel and acknowledges the request.
func (c *WSClient) toggle(msg WSMessage, channel string, join bool) {
	c.mu.Lock()
	if join {
		c.subscriptions[channel] = struct{}{}
	} else {
		delete(c.subscriptions, channel)
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if join {
		key = "subscribed"
	}
	c.hub.logger.Debug("websocket subscription changed", key, channel)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]string{key: channel})
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client has already been closed.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(outboundMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
