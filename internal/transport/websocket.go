package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-relaypool/internal/types"
)

// Config configures websocket relay connections.
type Config struct {
	MaxSubscriptions int           // Subscriptions sent to a relay at once; the rest wait as pending
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline per frame
	SendQueueSize    int           // Outbound frames buffered per connection
	AllowPrivate     bool          // Skip the private-address check (tests, local relays)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: 10,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendQueueSize:    256,
	}
}

// WebsocketDialer opens relay connections with gorilla/websocket.
type WebsocketDialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebsocketDialer creates a dialer. A nil logger uses slog.Default().
func NewWebsocketDialer(cfg Config, logger *slog.Logger) *WebsocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = DefaultConfig().MaxSubscriptions
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConfig().SendQueueSize
	}
	return &WebsocketDialer{cfg: cfg, logger: logger.With("component", "transport")}
}

// Dial starts connecting to url in the background and returns at once.
func (d *WebsocketDialer) Dial(url string, h Handler) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &relayConn{
		cfg:     d.cfg,
		url:     url,
		handler: h,
		logger:  d.logger.With("relay", url),
		active:  make(map[string]*subscription),
		out:     make(chan []byte, d.cfg.SendQueueSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go rc.run(ctx)
	return rc
}

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

type subscription struct {
	id        string
	filters   []types.Filter
	keepAlive bool
}

// relayConn manages a single websocket connection with multiple subscriptions
type relayConn struct {
	cfg     Config
	url     string
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   connState
	active  map[string]*subscription
	pending []*subscription

	out       chan []byte
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	endOnce   sync.Once
}

func (c *relayConn) URL() string { return c.url }

func (c *relayConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

func (c *relayConn) ActiveSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *relayConn) PendingSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// run dials, then reads until the socket fails or Close is called.
func (c *relayConn) run(ctx context.Context) {
	defer c.finish()

	if !c.cfg.AllowPrivate && !IsRelayURLSafe(ctx, c.url) {
		c.handler.OnError(c, ErrUnsafeURL)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() == nil {
			c.handler.OnError(c, err)
		}
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = stateOpen
	c.mu.Unlock()

	go c.writeLoop(conn)

	c.mu.Lock()
	c.promoteLocked()
	c.mu.Unlock()

	c.logger.Debug("relay connected")
	c.handler.OnOpen(c)
	c.readLoop(conn)
}

// readLoop continuously reads from the connection and forwards frames
func (c *relayConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.state == stateClosed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("relay read error", "error", err)
				c.handler.OnError(c, err)
			}
			return
		}

		label, subID := parseFrame(data)
		switch label {
		case LabelEOSE:
			c.endOneShot(subID)
		case LabelClosed:
			c.dropSubscription(subID)
		case LabelNotice:
			c.logger.Debug("relay notice", "frame", string(data))
		}

		c.handler.OnMessage(c, Message{
			Label:      label,
			SubID:      subID,
			Raw:        data,
			ReceivedAt: time.Now(),
		})
	}
}

// closeGrace bounds the close handshake write done by the write loop.
const closeGrace = time.Second

func (c *relayConn) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace),
			)
			conn.Close()
			return
		case frame := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("relay write error", "error", err)
				// Unblocks readLoop, which reports the failure.
				conn.Close()
				return
			}
		}
	}
}

// finish marks the connection closed and reports it exactly once.
func (c *relayConn) finish() {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.active = make(map[string]*subscription)
		c.pending = nil
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		c.closeOnce.Do(func() { close(c.done) })
		c.handler.OnClose(c)
	})
}

// Close never blocks on the network: it aborts a dial in progress and leaves
// the close handshake to the write loop.
func (c *relayConn) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()

	c.cancel()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *relayConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return c.stateErrLocked()
	}
	return c.enqueueLocked(payload)
}

func (c *relayConn) Subscribe(filters []types.Filter, subID string, keepAlive bool) types.Result {
	res := types.Result{RelayURL: c.url, SubID: subID}
	if subID == "" {
		res.Err = ErrEmptySubID
		return res
	}
	if len(filters) == 0 {
		res.Err = ErrNoFilters
		return res
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		res.Err = ErrClosed
		return res
	}

	sub := &subscription{id: subID, filters: filters, keepAlive: keepAlive}

	// A REQ with a live id replaces that subscription on the relay.
	if _, ok := c.active[subID]; ok && c.state == stateOpen {
		res.Err = c.sendReqLocked(sub)
		return res
	}
	c.removePendingLocked(subID)

	if c.state != stateOpen || len(c.active) >= c.cfg.MaxSubscriptions {
		c.pending = append(c.pending, sub)
		res.Queued = true
		return res
	}
	res.Err = c.sendReqLocked(sub)
	return res
}

func (c *relayConn) Unsubscribe(subID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removePendingLocked(subID) {
		return nil
	}
	if _, ok := c.active[subID]; !ok {
		return nil
	}
	delete(c.active, subID)
	if c.state != stateOpen {
		return nil
	}
	frame, err := closeFrame(subID)
	if err != nil {
		return err
	}
	err = c.enqueueLocked(frame)
	c.promoteLocked()
	return err
}

func (c *relayConn) Publish(event json.RawMessage) types.Result {
	res := types.Result{RelayURL: c.url}
	frame, err := eventFrame(event)
	if err != nil {
		res.Err = err
		return res
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		res.Err = c.stateErrLocked()
		return res
	}
	res.Err = c.enqueueLocked(frame)
	return res
}

// endOneShot closes a non keep-alive subscription once the relay has sent
// everything it had stored.
func (c *relayConn) endOneShot(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.active[subID]
	if !ok || sub.keepAlive {
		return
	}
	delete(c.active, subID)
	if frame, err := closeFrame(subID); err == nil {
		c.enqueueLocked(frame)
	}
	c.promoteLocked()
}

// dropSubscription forgets a subscription the relay closed on its side.
func (c *relayConn) dropSubscription(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[subID]; ok {
		delete(c.active, subID)
		c.promoteLocked()
		return
	}
	c.removePendingLocked(subID)
}

// promoteLocked sends pending subscriptions while slots are free.
func (c *relayConn) promoteLocked() {
	for c.state == stateOpen && len(c.pending) > 0 && len(c.active) < c.cfg.MaxSubscriptions {
		sub := c.pending[0]
		c.pending = c.pending[1:]
		if err := c.sendReqLocked(sub); err != nil {
			c.logger.Warn("pending subscription dropped", "sub_id", sub.id, "error", err)
		}
	}
}

func (c *relayConn) sendReqLocked(sub *subscription) error {
	frame, err := reqFrame(sub.id, sub.filters)
	if err != nil {
		return err
	}
	if err := c.enqueueLocked(frame); err != nil {
		delete(c.active, sub.id)
		return err
	}
	c.active[sub.id] = sub
	return nil
}

func (c *relayConn) removePendingLocked(subID string) bool {
	for i, sub := range c.pending {
		if sub.id == subID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// enqueueLocked hands a frame to the write loop without blocking.
func (c *relayConn) enqueueLocked(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *relayConn) stateErrLocked() error {
	if c.state == stateClosed {
		return ErrClosed
	}
	return ErrNotConnected
}
