package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/chatlink/internal/infrastructure/config"
	"github.com/nerrad567/chatlink/internal/infrastructure/logging"
)

// Frame types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePublish     = "publish"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels a client can subscribe to.
const (
	ChannelLinkState   = "link.state"
	ChannelLinkMessage = "link.message"
)

// wsQueueSize is the number of frames buffered per client. Frames beyond it
// are dropped for that client only.
const wsQueueSize = 256

// WSMessage is an inbound client frame.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsFrame is an outbound frame. ID echoes the request it answers.
type wsFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

func encodeFrame(f wsFrame) ([]byte, error) {
	f.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(f)
}

// WSSubscribePayload lists channels for subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSPublishPayload carries chat text for publish frames.
type WSPublishPayload struct {
	Text string `json:"text"`
}

// Hub tracks connected clients and fans events out to their subscriptions.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done and then drops every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes c and closes its queue. Repeated calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast queues an event for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(wsFrame{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.isSubscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// publish hands chat text to the link.
	publish func(text string) error

	// queueMu guards queue against sends racing shutdown.
	queueMu sync.Mutex
	queue   chan []byte
	closed  bool

	subMu sync.RWMutex
	subs  map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn, publish func(string) error) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		publish: publish,
		queue:   make(chan []byte, wsQueueSize),
		subs:    make(map[string]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The cors middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and starts the client's pumps.
// authMiddleware has already checked the token when auth is enabled.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, s.link.Publish)
	s.hub.Register(c)

	timing := newWSTiming(s.wsCfg)
	go c.writeLoop(timing)
	go c.readLoop(timing, int64(s.wsCfg.MaxMessageSize))
}

// wsTiming holds the keepalive intervals of a connection.
type wsTiming struct {
	ping time.Duration
	wait time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	return wsTiming{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		wait: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline is how long a silent connection stays open.
func (t wsTiming) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.wait)
}

// readLoop dispatches inbound frames until the connection fails.
func (c *WSClient) readLoop(t wsTiming, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(data)
	}
}

// writeLoop drains the queue and pings until the queue is closed or a write
// fails.
func (c *WSClient) writeLoop(t wsTiming) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.wait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				//nolint:errcheck // the connection is closing anyway
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePublish:
		c.handlePublish(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

func (c *WSClient) handleSubscription(msg WSMessage) {
	var p WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid "+msg.Type+" payload"))
		return
	}

	subscribe := msg.Type == WSTypeSubscribe
	c.subMu.Lock()
	for _, ch := range p.Channels {
		if subscribe {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
	c.subMu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: p.Channels})
}

func (c *WSClient) handlePublish(msg WSMessage) {
	var p WSPublishPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid publish payload"))
		return
	}
	if c.publish == nil {
		c.reply(msg.ID, WSTypeError, errorPayload("publishing is not available"))
		return
	}
	if err := c.publish(p.Text); err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{"published": true})
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

// reply queues a response frame.
func (c *WSClient) reply(id, kind string, payload any) {
	data, err := encodeFrame(wsFrame{Type: kind, ID: id, Payload: payload})
	if err != nil {
		c.hub.logger.Error("encoding websocket reply", "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue queues data unless the client is shut down or its queue is full.
func (c *WSClient) enqueue(data []byte) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- data:
	default:
		c.hub.logger.Debug("websocket queue full, frame dropped")
	}
}

// shutdown closes the queue, which makes writeLoop send a close frame.
func (c *WSClient) shutdown() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}
