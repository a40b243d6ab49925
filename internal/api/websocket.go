package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/logging"
)

// Message types on the WebSocket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	wsSendBuffer        = 256
	wsMaxChannels       = 32
	wsMaxChannelNameLen = 128

	defaultWSPing = 30 * time.Second
	defaultWSPong = 10 * time.Second
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans broadcast events out to WebSocket clients, indexed by channel.
//
// Slow clients never block a broadcast: when a client's buffer is full the
// frame is dropped for that client and counted in Dropped.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	channels map[string]map[*wsClient]struct{}

	dropped atomic.Uint64
}

// wsClient is one connection. Its channel set is guarded by the hub lock.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string

	channels map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS middleware; the ticket authenticates.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub. Run must be started for shutdown to reach
// connected clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
		channels: make(map[string]map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.channels = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Broadcast sends payload as an event frame to every client subscribed to
// channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("websocket broadcast marshal failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
	if len(targets) > 0 {
		h.logger.Debug("websocket broadcast", "channel", channel, "recipients", len(targets))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for ch := range c.channels {
		h.removeSubscriber(ch, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// subscribe adds channels for c and returns the resulting channel count.
func (h *Hub) subscribe(c *wsClient, channels []string) (int, error) {
	for _, ch := range channels {
		if ch == "" || len(ch) > wsMaxChannelNameLen {
			return 0, fmt.Errorf("invalid channel name %q", ch)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	added := 0
	for _, ch := range channels {
		if _, ok := c.channels[ch]; !ok {
			added++
		}
	}
	if len(c.channels)+added > wsMaxChannels {
		return len(c.channels), fmt.Errorf("at most %d channels per connection", wsMaxChannels)
	}

	for _, ch := range channels {
		c.channels[ch] = struct{}{}
		subs, ok := h.channels[ch]
		if !ok {
			subs = make(map[*wsClient]struct{})
			h.channels[ch] = subs
		}
		subs[c] = struct{}{}
	}
	return len(c.channels), nil
}

func (h *Hub) unsubscribe(c *wsClient, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
		h.removeSubscriber(ch, c)
	}
}

// removeSubscriber must be called with h.mu held.
func (h *Hub) removeSubscriber(channel string, c *wsClient) {
	subs := h.channels[channel]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// handleWebSocket upgrades a connection authenticated by a single-use
// ticket from POST /ws/ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.Hub()
	c := &wsClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		subject:  entry.subject,
		channels: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	hub.register(c)

	keepalive := hub.keepalive()
	go c.writeLoop(keepalive)
	go c.readLoop(keepalive, int64(hub.cfg.MaxMessageSize))
}

type wsKeepalive struct {
	ping time.Duration
	pong time.Duration
}

func (h *Hub) keepalive() wsKeepalive {
	k := wsKeepalive{ping: defaultWSPing, pong: defaultWSPong}
	if h.cfg.PingInterval > 0 {
		k.ping = config.Seconds(h.cfg.PingInterval)
	}
	if h.cfg.PongTimeout > 0 {
		k.pong = config.Seconds(h.cfg.PongTimeout)
	}
	return k
}

func (k wsKeepalive) readDeadline() time.Time {
	return time.Now().Add(k.ping + k.pong)
}

// close signals the write loop, which sends a close frame and shuts the
// connection. Safe to call repeatedly.
func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues a frame without blocking.
func (c *wsClient) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *wsClient) readLoop(k wsKeepalive, limit int64) {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(limit)
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(k.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers never
		// answer protocol pings while backgrounded.
		//nolint:errcheck // as above
		c.conn.SetReadDeadline(k.readDeadline())
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(k wsKeepalive) {
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(k.pong))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case frame := <-c.send:
			if !write(websocket.TextMessage, frame) {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				c.hub.unregister(c)
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil || len(sub.Channels) == 0 {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": "payload.channels is required"})
			return
		}
		if msg.Type == WSTypeUnsubscribe {
			c.hub.unsubscribe(c, sub.Channels)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
			return
		}
		total, err := c.hub.subscribe(c, sub.Channels)
		if err != nil {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": err.Error()})
			return
		}
		c.hub.logger.Info("websocket client subscribed", "subject", c.subject, "channels", sub.Channels)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "total": total})
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}
