// Package pool owns every relay connection and multiplexes consumer
// commands across them.
//
// All pool state is touched from a single goroutine: Run processes one bus
// command or one transport event at a time. Connections do their own I/O and
// report back through a queue that Run drains, so no locking is needed around
// the connection map, the status map or the subscription bookkeeping. The
// exported operations may also be called directly, as long as the caller is
// that one goroutine (tests do this before Run is started).
package pool

import (
	"log/slog"
	"time"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/portsubs"
	"nostr-relaypool/internal/subid"
	"nostr-relaypool/internal/transport"
	"nostr-relaypool/internal/types"
	"nostr-relaypool/internal/util"
)

// Publisher receives the pool's outbound events. *bus.Bus implements it.
type Publisher interface {
	Publish(ev bus.Event)
}

// Config configures the pool.
type Config struct {
	MaxKeepAliveSubscriptions int           // Per port; exceeding it is logged, not refused
	MonitorInterval           time.Duration // 0 disables the status monitor
	EventQueueSize            int           // Transport events buffered before connections block
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxKeepAliveSubscriptions: 2,
		MonitorInterval:           10 * time.Second,
		EventQueueSize:            1024,
	}
}

// subRecord tracks where a subscription issued by the pool is live.
type subRecord struct {
	port      string
	keepAlive bool
	relays    map[string]bool
}

// Pool is the relay connection pool.
type Pool struct {
	cfg    Config
	dialer transport.Dialer
	pub    Publisher
	logger *slog.Logger

	relaySet types.RelaySet
	conns    map[string]transport.Conn
	order    []string
	status   types.ConnectionStatus

	ports *portsubs.Index
	subs  map[subid.ID]*subRecord

	events  chan connEvent
	stopped chan struct{}
	handler *connHandler

	metrics metrics
}

// New creates an empty pool. Call SwitchRelaySet (directly or over the bus)
// to open connections. A nil logger uses slog.Default().
func New(cfg Config, dialer transport.Dialer, pub Publisher, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	p := &Pool{
		cfg:     cfg,
		dialer:  dialer,
		pub:     pub,
		logger:  logger.With("component", "pool"),
		conns:   make(map[string]transport.Conn),
		status:  make(types.ConnectionStatus),
		ports:   portsubs.New(),
		subs:    make(map[subid.ID]*subRecord),
		events:  make(chan connEvent, cfg.EventQueueSize),
		stopped: make(chan struct{}),
	}
	p.handler = &connHandler{events: p.events, stopped: p.stopped}
	return p
}

// SwitchRelaySet closes every connection, then opens one per relay in set.
func (p *Pool) SwitchRelaySet(set types.RelaySet) {
	p.CloseAll()
	p.relaySet = set.Clone()
	for _, url := range p.relaySet.URLs() {
		p.open(url)
	}
	p.logger.Info("relay set switched", "relay_set", set.ID, "relays", len(p.conns))
	p.refreshGauges()
	p.broadcastStatus()
	p.broadcastRelaySet()
}

// AddRelays opens connections for urls not already tracked. Each new relay
// joins the active set as read+write.
func (p *Pool) AddRelays(urls []string) int {
	added := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, tracked := p.status[url]; tracked {
			continue
		}
		p.relaySet.Relays = append(p.relaySet.Relays, types.DefaultEndpoint(url))
		p.open(url)
		added++
	}
	if added > 0 {
		p.logger.Info("relays added", "added", added, "relays", len(p.conns))
		p.refreshGauges()
		p.broadcastStatus()
		p.broadcastRelaySet()
	}
	return added
}

// CloseAll closes every connection and broadcasts the empty status.
func (p *Pool) CloseAll() {
	p.closeConns()
	p.refreshGauges()
	p.broadcastStatus()
}

// ConnectionStatusSnapshot returns a copy of the status map.
func (p *Pool) ConnectionStatusSnapshot() types.ConnectionStatus {
	return p.status.Clone()
}

// RelaySet returns a copy of the active relay set.
func (p *Pool) RelaySet() types.RelaySet {
	return p.relaySet.Clone()
}

// URLs returns the tracked relay URLs in the order they were opened.
func (p *Pool) URLs() []string {
	return append([]string(nil), p.order...)
}

// KeepAlivePorts returns ports currently holding keep-alive subscriptions.
func (p *Pool) KeepAlivePorts() []string {
	return p.ports.Ports()
}

func (p *Pool) open(url string) {
	if _, exists := p.conns[url]; exists {
		return
	}
	conn := p.dialer.Dial(url, p.handler)
	p.conns[url] = conn
	p.order = append(p.order, url)
	p.status[url] = false
	p.logger.Debug("relay connection opening", "relay", url)
}

// closeConns tears down every connection. Subscriptions die with their
// connections, so per-relay attribution is cleared too; the keep-alive
// index keeps its ports until they are closed.
func (p *Pool) closeConns() {
	for _, url := range p.order {
		if err := p.conns[url].Close(); err != nil {
			p.logger.Debug("relay close failed", "relay", url, "error", err)
		}
	}
	p.conns = make(map[string]transport.Conn)
	p.order = nil
	p.status = make(types.ConnectionStatus)
	p.subs = make(map[subid.ID]*subRecord)
}

// isCurrent reports whether c is the live connection for its URL. Events
// from connections replaced by a switch are ignored.
func (p *Pool) isCurrent(c transport.Conn) bool {
	live, ok := p.conns[c.URL()]
	return ok && live == c
}

func (p *Pool) setStatus(url string, connected bool) {
	if p.status[url] == connected {
		return
	}
	p.status[url] = connected
	p.refreshGauges()
	p.broadcastStatus()
}

func (p *Pool) broadcastStatus() {
	p.publish(bus.StatusChanged{Status: p.ConnectionStatusSnapshot()})
}

func (p *Pool) broadcastRelaySetID() {
	p.publish(bus.RelaySetID{ID: p.relaySet.ID})
}

func (p *Pool) broadcastRelaySet() {
	p.publish(bus.RelaySetChanged{Set: p.RelaySet()})
}

func (p *Pool) publish(ev bus.Event) {
	if p.pub != nil {
		p.pub.Publish(ev)
	}
}

// sortedURLs returns the tracked URLs in lexical order.
func (p *Pool) sortedURLs() []string {
	return util.SortedCopy(p.order)
}
