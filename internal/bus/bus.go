// Package bus decouples the pool from its consumers.
//
// Commands flow in through one bounded queue: senders block (or give up
// with their context) when it is full. Events flow out to any number of
// subscribers, each with its own bounded channel; a subscriber that falls
// behind loses new events rather than stalling the pool, and the loss is
// counted.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Errors
var (
	ErrClosed             = errors.New("bus: closed")
	ErrFull               = errors.New("bus: command queue full")
	ErrSubscriberExists   = errors.New("bus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("bus: subscriber not found")
)

// Config sizes the bus queues.
type Config struct {
	CommandQueueSize int // Commands buffered before senders block
	EventBufferSize  int // Events buffered per subscriber before drops
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CommandQueueSize: 256,
		EventBufferSize:  1024,
	}
}

// SubscriberStats tracks event delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan Event
	accept  func(Event) bool
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus is the in-process message bus between the pool and its consumers.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	commands chan Envelope
	done     chan struct{}

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = def.CommandQueueSize
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	return &Bus{
		cfg:         cfg,
		logger:      logger.With("component", "bus"),
		commands:    make(chan Envelope, cfg.CommandQueueSize),
		done:        make(chan struct{}),
		subscribers: make(map[string]*subscriber),
	}
}

// Commands is the receive side of the command queue.
func (b *Bus) Commands() <-chan Envelope { return b.commands }

// Done is closed when the bus is closed.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Send queues cmd, waiting for room until ctx is done.
func (b *Bus) Send(ctx context.Context, cmd Command) error {
	return b.send(ctx, Envelope{Command: cmd})
}

// TrySend queues cmd only if there is room right now.
func (b *Bus) TrySend(cmd Command) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.commands <- Envelope{Command: cmd}:
		return nil
	default:
		return ErrFull
	}
}

// Request queues cmd and waits for the pool's reply.
func (b *Bus) Request(ctx context.Context, cmd Command) (Reply, error) {
	reply := make(chan Reply, 1)
	if err := b.send(ctx, Envelope{Command: cmd, Reply: reply}); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-b.done:
		return Reply{}, ErrClosed
	}
}

func (b *Bus) send(ctx context.Context, env Envelope) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.commands <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Subscribe registers a subscriber. accept filters events; nil accepts all.
func (b *Bus) Subscribe(id string, accept func(Event) bool) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &subscriber{
		ch:     make(chan Event, b.cfg.EventBufferSize),
		accept: accept,
	}
	b.subscribers[id] = sub
	return sub.ch, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	close(sub.ch)
	return nil
}

// Publish delivers ev to every accepting subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for id, sub := range b.subscribers {
		if sub.accept != nil && !sub.accept(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Debug("subscriber full, event dropped", "subscriber", id)
		}
	}
}

// Stats returns delivery counters for one subscriber.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}, nil
}

// Published returns how many events were published.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped returns how many deliveries were dropped across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close stops accepting commands and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
