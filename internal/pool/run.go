package pool

import (
	"context"
	"fmt"
	"time"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/types"
)

// Run is the pool's worker loop. It processes bus commands, transport events
// and monitor ticks one at a time until ctx is done or commands is closed,
// then closes every connection.
func (p *Pool) Run(ctx context.Context, commands <-chan bus.Envelope) error {
	defer close(p.stopped)
	defer p.CloseAll()

	var tick <-chan time.Time
	if p.cfg.MonitorInterval > 0 {
		ticker := time.NewTicker(p.cfg.MonitorInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.logger.Info("pool started", "relays", len(p.conns))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pool stopping")
			return nil
		case env, ok := <-commands:
			if !ok {
				return nil
			}
			p.HandleCommand(env)
		case ev := <-p.events:
			p.applyConnEvent(ev)
		case <-tick:
			p.logStatus()
		}
	}
}

// HandleCommand executes one bus command and answers it if a reply was
// requested.
func (p *Pool) HandleCommand(env bus.Envelope) {
	p.metrics.commands.Add(1)

	var reply bus.Reply
	switch cmd := env.Command.(type) {
	case bus.SwitchRelaySet:
		p.SwitchRelaySet(cmd.Set)
	case bus.AddRelayURLs:
		p.AddRelays(cmd.URLs)
	case bus.QueryStatus:
		p.broadcastStatus()
	case bus.QueryRelaySetID:
		p.broadcastRelaySetID()
	case bus.Invoke:
		reply.Results, reply.Err = p.Dispatch(cmd.PortID, cmd.Selector, cmd.Op)
	case bus.DisconnectAll:
		p.CloseAll()
	case bus.ClosePort:
		p.ClosePort(cmd.PortID)
	default:
		p.metrics.usageErrors.Add(1)
		reply.Err = fmt.Errorf("%w: unknown command %T", types.ErrUsage, env.Command)
	}

	if reply.Err != nil && env.Reply == nil {
		p.logger.Warn("command failed", "command", fmt.Sprintf("%T", env.Command), "error", reply.Err)
	}
	env.Respond(reply)
}

// drainEvents applies every queued transport event without blocking.
func (p *Pool) drainEvents() int {
	n := 0
	for {
		select {
		case ev := <-p.events:
			p.applyConnEvent(ev)
			n++
		default:
			return n
		}
	}
}
