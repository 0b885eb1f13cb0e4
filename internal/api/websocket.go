package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsQueueSize is the number of outbound messages buffered per panel.
const wsQueueSize = 256

// WSMessage is the envelope of every server-to-panel message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a panel-to-server message. The payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// defaultChannels are the channels a panel listens on when it connects
// without ?channels=.
var defaultChannels = []string{
	events.ChannelDeviceStatus,
	events.ChannelActionResult,
	events.ChannelActionCompleted,
	events.ChannelConfigReloaded,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware owns origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsTimings holds the keepalive settings of one connection.
type wsTimings struct {
	ping    time.Duration
	pong    time.Duration
	maxRead int64
}

func timingsFor(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		ping:    time.Duration(cfg.PingInterval) * time.Second,
		pong:    time.Duration(cfg.PongTimeout) * time.Second,
		maxRead: int64(cfg.MaxMessageSize),
	}
}

// readDeadline is how long a connection may stay silent.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pong)
}

// wsClient is one connected panel.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

func newWSClient(hub *Hub, conn *websocket.Conn, channels []string) *wsClient {
	c := &wsClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsQueueSize),
		channels: make(map[string]struct{}, len(channels)),
	}
	c.setChannels(channels, true)
	return c
}

func (c *wsClient) listening(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

// enqueue queues data without blocking. It reports false when the queue is
// full or already closed.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeQueue closes the outbound queue once; writePump then says goodbye.
func (c *wsClient) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) shutdown() {
	c.closeQueue()
	if c.conn != nil {
		c.conn.Close()
	}
}

// handleWebSocket upgrades the request and attaches a panel to the hub.
// ?channels=a,b selects the initial channels; without it the panel gets
// every event channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels := defaultChannels
	if raw := r.URL.Query().Get("channels"); raw != "" {
		channels = splitChannels(raw)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, channels)
	s.hub.add(c)

	t := timingsFor(s.wsCfg)
	go c.writePump(t)
	go c.readPump(t)
}

func splitChannels(raw string) []string {
	var out []string
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// readPump serves panel requests until the connection fails. Any inbound
// frame, pong or message, extends the read deadline.
func (c *wsClient) readPump(t wsTimings) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.maxRead)
	_ = c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(t.readDeadline())
		c.handle(data)
	}
}

// writePump drains the queue and pings on every interval. It exits when
// the queue is closed or a write fails.
func (c *wsClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(t.pong))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.changeChannels(req, true)
	case WSTypeUnsubscribe:
		c.changeChannels(req, false)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *wsClient) changeChannels(req wsRequest, on bool) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || len(p.Channels) == 0 {
		c.replyError(req.ID, req.Type+" needs a payload with channels")
		return
	}
	c.setChannels(p.Channels, on)

	key := "unsubscribed"
	if on {
		key = "subscribed"
	}
	c.hub.logger.Debug("panel channels changed", key, p.Channels)
	c.reply(req.ID, WSTypeResponse, map[string][]string{key: p.Channels})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
