package webui

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storepilot/pkg/events"
	"storepilot/pkg/logx"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	clientBuffer = 256
)

// Control message types exchanged with clients. Every other type is an
// event kind.
const (
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeError       = "error"
)

// WSMessage is one frame on /ws/events.
type WSMessage struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// SubscribePayload narrows (or widens) the event kinds a client receives.
// A topic matches a kind exactly or as a prefix ending in ':', so
// "autopilot:" selects every AutoPilot event.
type SubscribePayload struct {
	Topics []string `json:"topics"`
}

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type outbound struct {
	kind string
	data []byte
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	topicsMu sync.RWMutex
	topics   map[string]bool
}

func (c *Client) wants(kind string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	if len(c.topics) == 0 {
		return true
	}
	if c.topics[kind] {
		return true
	}
	for t := range c.topics {
		if strings.HasSuffix(t, ":") && strings.HasPrefix(kind, t) {
			return true
		}
	}
	return false
}

// Hub fans events out to every connected client. A client whose buffer is
// full is dropped rather than slowing down the publisher.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *logx.Logger
}

// NewHub creates a hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logx.NewLogger("ws"),
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("WebSocket client connected: %s", client.id)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(msg.kind) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warn("dropping slow WebSocket client %s", c.id)
				h.remove(c)
			}

		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("WebSocket client disconnected: %s", client.id)
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Publish queues e for every interested client. It never blocks; events are
// dropped when the hub is saturated or stopped. It is an events.Handler.
func (h *Hub) Publish(e events.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		h.logger.Warn("cannot encode %s payload: %v", e.Kind, err)
		payload = nil
	}
	data, err := json.Marshal(WSMessage{
		Type:      string(e.Kind),
		AgentID:   e.AgentID,
		Payload:   payload,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		h.logger.Warn("cannot encode %s event: %v", e.Kind, err)
		return
	}

	select {
	case <-h.quit:
	case h.broadcast <- outbound{kind: string(e.Kind), data: data}:
	default:
		h.logger.Warn("WebSocket broadcast queue full, dropping %s", e.Kind)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events to it. Optional topics
// query parameter (comma separated) sets the initial subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		id:     uuid.NewString(),
		topics: make(map[string]bool),
	}
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			client.topics[t] = true
		}
	}

	select {
	case h.register <- client:
	case <-h.quit:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump handles control messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(MessageTypeError, map[string]string{"message": "invalid message format"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(MessageTypeError, map[string]string{"message": "invalid " + msg.Type + " payload"})
			return
		}
		c.topicsMu.Lock()
		for _, topic := range payload.Topics {
			if msg.Type == MessageTypeSubscribe {
				c.topics[topic] = true
			} else {
				delete(c.topics, topic)
			}
		}
		c.topicsMu.Unlock()

	default:
		c.reply(MessageTypeError, map[string]string{"message": "unknown message type " + msg.Type})
	}
}

// reply queues a control frame. Frames are dropped when the buffer is full.
func (c *Client) reply(msgType string, payload any) {
	msg := WSMessage{Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		msg.Payload, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(msg)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes one frame per queued message and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
