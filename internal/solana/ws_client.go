package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by calls on a closed WSClient.
var ErrClientClosed = errors.New("websocket client closed")

// slotBuffer is how many notifications wait for the reader. Older ones are
// dropped first: only the newest slot matters to a clock.
const slotBuffer = 64

// WSClientConfig configures the slot feed.
type WSClientConfig struct {
	ReconnectDelay    time.Duration // first redial delay, doubled per failure
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration // extended by every message and pong
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration // wait for the subscription id
}

// DefaultWSConfig returns the default feed configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    500 * time.Millisecond,
		MaxReconnectDelay: 15 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       45 * time.Second,
		WriteTimeout:      5 * time.Second,
		SubscribeTimeout:  10 * time.Second,
	}
}

// WSClient streams slotSubscribe notifications. One reader goroutine owns
// the connection; on a read failure it redials with backoff and renews the
// subscription, so the channel SubscribeSlots returns survives reconnects.
type WSClient struct {
	endpoint string
	cfg      WSClientConfig
	logger   *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subID      uint64
	subscribed bool
	pending    map[uint64]chan ack

	writeMu sync.Mutex
	nextID  atomic.Uint64
	closed  atomic.Bool

	slots chan SlotNotification
	done  chan struct{}
	wg    sync.WaitGroup
}

type ack struct {
	subID uint64
	err   error
}

var _ SlotSubscriber = (*WSClient)(nil)

// NewWSClient dials endpoint and starts the reader. A nil config uses
// DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *zap.Logger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &WSClient{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[uint64]chan ack),
		slots:    make(chan SlotNotification, slotBuffer),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop()
	return c, nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	return conn, nil
}

// SubscribeSlots subscribes once and returns the feed. Later calls return
// the same channel. The channel is closed by Close.
func (c *WSClient) SubscribeSlots(ctx context.Context) (<-chan SlotNotification, error) {
	c.mu.Lock()
	already := c.subscribed
	c.mu.Unlock()
	if already {
		return c.slots, nil
	}

	if _, err := c.subscribe(ctx); err != nil {
		return nil, err
	}
	return c.slots, nil
}

// subscribe sends slotSubscribe on the current connection and waits for
// the node to answer with an id or an error.
func (c *WSClient) subscribe(ctx context.Context) (uint64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.nextID.Add(1)
	wait := make(chan ack, 1)
	c.mu.Lock()
	conn := c.conn
	c.pending[reqID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if conn == nil {
		return 0, fmt.Errorf("slotSubscribe: not connected")
	}
	if err := c.write(conn, wsRequest{JSONRPC: "2.0", ID: reqID, Method: "slotSubscribe"}); err != nil {
		return 0, fmt.Errorf("slotSubscribe: %w", err)
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()
	select {
	case a, ok := <-wait:
		if !ok {
			return 0, ErrClientClosed
		}
		return a.subID, a.err
	case <-timer.C:
		return 0, fmt.Errorf("slotSubscribe: no answer after %s", c.cfg.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *WSClient) write(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

// Close stops the reader, closes the connection and the feed.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.slots)
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.read(conn)
		if c.closed.Load() {
			return
		}
		c.logger.Warn("slot feed read failed, redialing", zap.Error(err))

		if conn = c.redial(); conn == nil {
			return
		}
		c.mu.Lock()
		renew := c.subscribed
		c.subID = 0
		c.mu.Unlock()
		if renew {
			c.wg.Add(1)
			go c.renew()
		}
	}
}

// read dispatches messages from conn until it fails.
func (c *WSClient) read(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// redial reconnects with exponential backoff. It returns nil once the
// client is closed.
func (c *WSClient) redial() *websocket.Conn {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	delay := c.cfg.ReconnectDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed.Load() {
				c.mu.Unlock()
				conn.Close()
				return nil
			}
			c.conn = conn
			c.mu.Unlock()
			c.logger.Info("slot feed reconnected")
			return conn
		}

		c.logger.Warn("slot feed redial failed", zap.Error(err), zap.Duration("delay", delay))
		if delay *= 2; delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// renew subscribes again on a fresh connection.
func (c *WSClient) renew() {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
	defer cancel()
	if _, err := c.subscribe(ctx); err != nil && !errors.Is(err, ErrClientClosed) {
		c.logger.Warn("slot resubscribe failed", zap.Error(err))
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("slot feed: undecodable message", zap.Error(err))
		return
	}

	if msg.Method == "slotNotification" && msg.Params != nil {
		c.mu.Lock()
		current := c.subID
		c.mu.Unlock()
		if msg.Params.Subscription == current {
			c.deliver(msg.Params.Result)
		}
		return
	}
	if msg.ID == nil {
		return
	}

	var a ack
	if msg.Error != nil {
		a.err = msg.Error
		c.logger.Warn("slot feed rejected request", zap.Int("code", msg.Error.Code), zap.String("message", msg.Error.Message))
	} else if err := json.Unmarshal(msg.Result, &a.subID); err != nil {
		a.err = fmt.Errorf("decode subscription id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wait, ok := c.pending[*msg.ID]
	if !ok {
		return
	}
	if a.err == nil {
		// Switch the feed before the caller hears back so no notification
		// for the new id is dropped.
		c.subID, c.subscribed = a.subID, true
	}
	delete(c.pending, *msg.ID)
	wait <- a
}

// deliver queues n, evicting the oldest notification when the buffer is
// full.
func (c *WSClient) deliver(n SlotNotification) {
	for {
		select {
		case c.slots <- n:
			return
		default:
		}
		select {
		case <-c.slots:
		default:
		}
	}
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			// A dead connection surfaces as a read error.
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage is any frame the node sends: a reply to a request or a
// subscription notification.
type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription uint64           `json:"subscription"`
		Result       SlotNotification `json:"result"`
	} `json:"params"`
}
