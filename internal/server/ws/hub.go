// Package ws bridges the venue's Redis pub/sub channels onto WebSocket
// clients. Dashboards subscribe to the event and price feeds and receive
// protobuf binary frames; inside the process every payload stays JSON.
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
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/service"
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

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 256
)

// statusChannel is hub-local: the connect snapshot arrives on it, and
// clients cannot unsubscribe from it.
const statusChannel = "status"

// feedChannels are the venue pub/sub channels the hub relays. Everything a
// dashboard needs flows through these two: the event feed carries the full
// venue envelope stream, the price feed carries per-market price surfaces.
var feedChannels = []string{
	service.EventsChannel,
	service.PricesChannel,
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// subscribeMsg is the JSON control message a client sends to change its
// channel subscriptions: {"action":"subscribe","channels":["prices"]}.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Hub manages connected WebSocket clients and fans venue feed messages out
// to the ones subscribed to each channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	origins    []string
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	strategy   string
	startedAt  time.Time
}

// frame carries one encoded wire frame along with its source channel so the
// hub routes it only to clients subscribed to that channel.
type frame struct {
	channel string
	data    []byte
}

// Config captures the venue identity reported in the status snapshot sent
// to each client on connect.
type Config struct {
	Mode      string
	Strategy  string
	StartedAt time.Time
	// Origins restricts WebSocket upgrades to the listed Origin headers.
	// Empty allows all, matching the CORS middleware semantics.
	Origins []string
}

// NewHub creates a WebSocket hub that bridges the venue SignalBus to
// connected clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	strategy := strings.TrimSpace(cfg.Strategy)
	if strategy == "" {
		strategy = "none"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		origins:    cfg.Origins,
		logger:     logger,
		mode:       mode,
		strategy:   strategy,
		startedAt:  startedAt,
	}
}

// Run drives registration, unregistration and frame fan-out, and exits
// when the context is cancelled. Call it in a goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range feedChannels {
		go h.relayChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.admit(c)
		case c := <-h.unregister:
			h.drop(c)
		case f := <-h.broadcast:
			h.fanOut(f)
		}
	}
}

// admit adds a connection to the fan-out set.
func (h *Hub) admit(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Info("ws: client connected",
		slog.Int("total_clients", h.clientCount()),
	)
}

// drop removes a connection and releases its send queue. Calling it for an
// already-dropped client is a no-op.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected",
		slog.Int("total_clients", h.clientCount()),
	)
}

// fanOut hands one frame to every client subscribed to its channel. A full
// send queue drops the frame for that client only; a stalled dashboard
// must not hold up the rest.
func (h *Hub) fanOut(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(f.channel) {
			continue
		}
		select {
		case c.send <- f.data:
		default:
			h.logger.Warn("ws: dropping frame for slow client",
				slog.String("channel", f.channel),
			)
		}
	}
}

// closeAll releases every client at shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// relayChannel subscribes to one venue pub/sub channel, encodes each
// payload into a wire frame once, and hands it to the fan-out loop.
func (h *Hub) relayChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			encoded, err := encodeFrame(channel, data)
			if err != nil {
				h.logger.Debug("ws: payload not relayed",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			h.broadcast <- frame{channel: channel, data: encoded}
		}
	}
}

// encodeFrame wraps one JSON payload from the bus in a protobuf envelope:
// a Struct holding the channel name and the decoded payload. Amounts in
// venue payloads are decimal strings, so the float-backed Struct numbers
// never touch them.
func encodeFrame(channel string, payload []byte) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", channel, err)
	}
	env, err := structpb.NewStruct(map[string]any{
		"channel": channel,
		"data":    body,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s frame: %w", channel, err)
	}
	return proto.Marshal(env)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	// Clients start subscribed to every feed and narrow from there.
	for _, ch := range feedChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendStatusFrame()

	go c.writePump()
	go c.readPump()
}

// originAllowed applies the configured origin allow-list to an upgrade
// request. Requests without an Origin header are non-browser clients and
// pass.
func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	for _, o := range h.origins {
		if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. Clients only send
// subscription control messages as JSON text frames.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests. Unknown
// channel names are ignored; the feed set is fixed.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range msg.Channels {
		if !knownChannel(ch) {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func knownChannel(ch string) bool {
	for _, known := range feedChannels {
		if ch == known {
			return true
		}
	}
	return false
}

// sendStatusFrame pushes a status snapshot so clients can mark the
// connection healthy before any market traffic flows. It uses the same
// protobuf envelope as the feeds so clients decode one format.
func (c *client) sendStatusFrame() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	env, err := structpb.NewStruct(map[string]any{
		"channel": statusChannel,
		"data": map[string]any{
			"mode":           c.hub.mode,
			"strategy":       c.hub.strategy,
			"uptime_seconds": uptime,
			"ws_connected":   true,
		},
	})
	if err != nil {
		return
	}
	data, err := proto.Marshal(env)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
// The status channel always passes.
func (c *client) isSubscribed(channel string) bool {
	if channel == statusChannel {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps frames from the hub to the WebSocket connection. Data
// goes out as protobuf binary frames, keepalive as periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case fr, ok := <-c.send:
			if !ok {
				// The hub closed the queue.
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if c.write(websocket.BinaryMessage, fr) != nil {
				return
			}

		case <-ticker.C:
			if c.write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// write sends one message under the write deadline.
func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
