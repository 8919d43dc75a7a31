// Package transporttest provides an in-memory transport for pool tests.
package transporttest

import (
	"encoding/json"
	"sync"
	"time"

	"nostr-relaypool/internal/transport"
	"nostr-relaypool/internal/types"
)

// SubscribeCall records one Subscribe invocation.
type SubscribeCall struct {
	Filters   []types.Filter
	SubID     string
	KeepAlive bool
}

// Dialer hands out Conns and remembers every dial.
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn
}

// NewDialer returns an empty fake dialer.
func NewDialer() *Dialer { return &Dialer{} }

// Dial returns a Conn that stays connecting until Open is called.
func (d *Dialer) Dial(url string, h transport.Handler) transport.Conn {
	c := &Conn{url: url, handler: h}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c
}

// Conns returns every Conn dialed so far, in order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Latest returns the most recent Conn dialed for url.
func (d *Dialer) Latest(url string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i].url == url {
			return d.conns[i]
		}
	}
	return nil
}

// DialCount returns how many times url was dialed.
func (d *Dialer) DialCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if c.url == url {
			n++
		}
	}
	return n
}

// Conn is a scriptable transport.Conn.
type Conn struct {
	url     string
	handler transport.Handler

	mu           sync.Mutex
	connected    bool
	closed       bool
	subscribes   []SubscribeCall
	unsubscribes []string
	publishes    []json.RawMessage
	sends        [][]byte
	active       int
	pending      int
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, payload)
	if !c.connected {
		return transport.ErrNotConnected
	}
	return nil
}

func (c *Conn) Subscribe(filters []types.Filter, subID string, keepAlive bool) types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, SubscribeCall{Filters: filters, SubID: subID, KeepAlive: keepAlive})
	if c.closed {
		return types.Result{RelayURL: c.url, SubID: subID, Err: transport.ErrClosed}
	}
	if !c.connected {
		c.pending++
		return types.Result{RelayURL: c.url, SubID: subID, Queued: true}
	}
	c.active++
	return types.Result{RelayURL: c.url, SubID: subID}
}

func (c *Conn) Unsubscribe(subID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes = append(c.unsubscribes, subID)
	if c.active > 0 {
		c.active--
	}
	return nil
}

func (c *Conn) Publish(event json.RawMessage) types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, event)
	if !c.connected {
		return types.Result{RelayURL: c.url, Err: transport.ErrNotConnected}
	}
	return types.Result{RelayURL: c.url}
}

func (c *Conn) ActiveSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Conn) PendingSubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Open marks the connection open and reports it to the handler.
func (c *Conn) Open() {
	c.mu.Lock()
	c.connected = true
	c.active += c.pending
	c.pending = 0
	c.mu.Unlock()
	c.handler.OnOpen(c)
}

// Fail reports an error followed by a close, as a dropped socket does.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.handler.OnError(c, err)
	c.handler.OnClose(c)
}

// Deliver hands an inbound frame to the handler.
func (c *Conn) Deliver(label, subID string, raw []byte) {
	c.handler.OnMessage(c, transport.Message{Label: label, SubID: subID, Raw: raw, ReceivedAt: time.Now()})
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribes returns recorded Subscribe calls.
func (c *Conn) Subscribes() []SubscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubscribeCall(nil), c.subscribes...)
}

// Unsubscribes returns recorded Unsubscribe ids.
func (c *Conn) Unsubscribes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribes...)
}

// Publishes returns recorded Publish payloads.
func (c *Conn) Publishes() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.publishes...)
}

// Sends returns recorded Send payloads.
func (c *Conn) Sends() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sends...)
}

// Calls returns the total number of outbound calls made on c.
func (c *Conn) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribes) + len(c.unsubscribes) + len(c.publishes) + len(c.sends)
}
