// Package ws bridges vault events from the signal bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/events"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// maxReplay bounds the backlog sent to a client resuming with ?since=.
	maxReplay = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is one outgoing WebSocket message.
type frame struct {
	kind int
	data []byte
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	mu     sync.RWMutex
	vaults map[string]bool
}

// subscribeMsg is the JSON text frame a client sends to narrow or widen the
// set of vaults it receives events for. An empty set means all vaults.
type subscribeMsg struct {
	Action string   `json:"action"`
	Vaults []string `json:"vaults"`
}

// Hub manages connected WebSocket clients and fans out vault events received
// on the signal bus as binary protobuf frames.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Run subscribes to the vault event channel and serves client registration
// and broadcast until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, events.Channel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed to vault events", slog.String("channel", events.Channel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("vault event subscription closed")
				msgCh = nil
				continue
			}
			ev, err := events.Decode(data)
			if err != nil {
				h.logger.Warn("dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(ev.VaultID, data)
		}
	}
}

func (h *Hub) fanOut(vaultID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(vaultID) {
			continue
		}
		select {
		case c.send <- frame{kind: websocket.BinaryMessage, data: data}:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. A client resuming
// after a disconnect may pass ?since=<stream id> to receive the events it
// missed from the durable stream.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		vaults: make(map[string]bool),
	}
	c.queueStatus()
	if since != "" {
		c.queueReplay(r.Context(), since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) queueStatus() {
	msg, err := json.Marshal(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
			"channel":        events.Channel,
		},
	})
	if err != nil {
		return
	}
	c.send <- frame{kind: websocket.TextMessage, data: msg}
}

func (c *client) queueReplay(ctx context.Context, since string) {
	backlog, err := c.hub.bus.StreamRead(ctx, events.Stream, since, maxReplay)
	if err != nil {
		c.hub.logger.Warn("replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, m := range backlog {
		select {
		case c.send <- frame{kind: websocket.BinaryMessage, data: m.Payload}:
		default:
			return
		}
	}
}

// wants reports whether the client should receive events for vaultID.
func (c *client) wants(vaultID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vaults) == 0 || c.vaults[vaultID]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, v := range msg.Vaults {
			c.vaults[v] = true
		}
	case "unsubscribe":
		for _, v := range msg.Vaults {
			delete(c.vaults, v)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
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
