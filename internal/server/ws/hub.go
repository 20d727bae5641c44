// Package ws streams sealed events to websocket clients.
//
// A client receives every event by default. It narrows the stream by
// sending {"action":"subscribe","channels":[...]} and
// {"action":"unsubscribe","channels":[...]}, where a channel is an event
// name ("SwapEvent"), "principal:<address>" or "*" for everything.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// AllChannels matches every event.
	AllChannels = "*"

	principalPrefix = "principal:"
)

// PrincipalChannel is the channel of one principal's events.
func PrincipalChannel(addr domain.Address) string {
	return principalPrefix + addr.String()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope written to clients.
type Message struct {
	Type     string              `json:"type"`
	Event    *domain.EventRecord `json:"event,omitempty"`
	Channels []string            `json:"channels,omitempty"`
	Slot     uint64              `json:"slot,omitempty"`
}

type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type broadcastMsg struct {
	name      string
	principal string
	data      []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool

	// mu guards subs and closed. Only the hub goroutine closes send, and
	// it does so under mu; other goroutines send under mu.
	mu     sync.RWMutex
	closed bool
}

// Hub fans sealed events out to connected clients. It is an events.Sink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
	slot       func() uint64
}

// NewHub creates a hub. slot, if set, is reported in the greeting.
func NewHub(logger *zap.Logger, slot func() uint64) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
		slot:       slot,
	}
}

// Name implements events.Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish queues batch for broadcast. Slow clients drop messages rather
// than hold up the batch.
func (h *Hub) Publish(ctx context.Context, batch []domain.EventRecord) error {
	for i := range batch {
		rec := batch[i]
		data, err := json.Marshal(Message{Type: "event", Event: &rec})
		if err != nil {
			return err
		}
		msg := broadcastMsg{
			name:      rec.Name,
			principal: PrincipalChannel(rec.Principal),
			data:      data,
		}
		select {
		case h.broadcast <- msg:
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run handles registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			observability.UpdateWSClients(0)
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			observability.UpdateWSClients(n)
			h.logger.Debug("client connected", zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.UpdateWSClients(n)
			h.logger.Debug("client disconnected", zap.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", zap.String("event", msg.name))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{AllChannels: true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	var slot uint64
	if h.slot != nil {
		slot = h.slot()
	}
	c.reply(Message{Type: "hello", Channels: c.channels(), Slot: slot})

	go c.writePump()
	go c.readPump()
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
				c.hub.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			continue
		}
		c.handleSubscription(sub)
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[strings.TrimSpace(ch)] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, strings.TrimSpace(ch))
		}
	}
	c.mu.Unlock()
	c.reply(Message{Type: "subscriptions", Channels: c.channels()})
}

// reply queues a control message without blocking. It is a no-op once the
// hub has dropped the client.
func (c *client) reply(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close closes send once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func (c *client) isSubscribed(msg broadcastMsg) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[AllChannels] || c.subs[msg.name] || c.subs[msg.principal]
}

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
