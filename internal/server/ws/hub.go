package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one dashboard connection. An empty types set means the client
// receives every event type.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	types map[domain.EventType]bool
	mu    sync.RWMutex
}

// filterMsg is the JSON a client sends to narrow the event types it receives.
//
//	{"action":"subscribe","types":["price_update","trade_closed"]}
type filterMsg struct {
	Action string             `json:"action"`
	Types  []domain.EventType `json:"types"`
}

// broadcastMsg carries an encoded event and its type for per-client routing.
type broadcastMsg struct {
	typ  domain.EventType
	data []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	Channel   string
	StartedAt time.Time
	// ActiveCount reports the number of active positions for the status
	// greeting. Optional.
	ActiveCount func(ctx context.Context) (int, error)
}

// Hub fans ledger events out to connected WebSocket clients. Events arrive
// either from a SignalBus subscription (when the tracker runs in another
// process) or directly through Publish, which makes the hub an EventSink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	// done is closed when Run returns.
	done       chan struct{}
	bus        domain.SignalBus
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil, in which case only Publish feeds it.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run starts the hub's event loop and, when a bus is configured, the relay
// from the event channel. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.cfg.Channel != "" {
		go h.relay(ctx, h.cfg.Channel)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			close(h.done)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.typ) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts evt to connected clients. It never blocks on slow
// clients; when the hub's queue is full the event is dropped.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("ws: encode %s event: %w", evt.Type, err)
	}
	select {
	case h.broadcast <- broadcastMsg{typ: evt.Type, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("ws: broadcast queue full, dropped %s", evt.Type)
	}
}

// relay forwards payloads from the bus channel to the broadcast loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", channel))
				return
			}
			var head struct {
				Type domain.EventType `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				h.logger.Debug("skipping malformed event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{typ: head.Type, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		types: make(map[domain.EventType]bool),
	}

	// Greet before registering; once registered, the hub owns c.send.
	c.sendInitialStatus(r.Context())
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads filter requests from the client until the connection drops.
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
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.applyFilter(msg)
		}
	}
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.types[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.types, t)
		}
	case "reset":
		clear(c.types)
	}
}

func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[t]
}

// sendInitialStatus greets the client so it can mark the connection healthy
// before any event flows.
func (c *client) sendInitialStatus(ctx context.Context) {
	uptime := int64(time.Since(c.hub.cfg.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	active := 0
	if c.hub.cfg.ActiveCount != nil {
		if n, err := c.hub.cfg.ActiveCount(ctx); err == nil {
			active = n
		}
	}

	msg, err := json.Marshal(map[string]any{
		"type": "bot_status",
		"payload": map[string]any{
			"mode":             c.hub.cfg.Mode,
			"uptime_seconds":   uptime,
			"active_positions": active,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump sends queued events as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.EventSink = (*Hub)(nil)
