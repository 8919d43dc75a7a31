package pool

import (
	"encoding/json"
	"fmt"

	"nostr-relaypool/internal/subid"
	"nostr-relaypool/internal/transport"
	"nostr-relaypool/internal/types"
)

type opHandler func(p *Pool, port string, targets []transport.Conn, op types.Operation) ([]types.Result, error)

// dispatchTable maps every operation kind to the method that runs it.
var dispatchTable = map[types.OpKind]opHandler{
	types.OpSubscribe:   (*Pool).runSubscribe,
	types.OpUnsubscribe: (*Pool).runUnsubscribe,
	types.OpPublish:     (*Pool).runPublish,
	types.OpSend:        (*Pool).runSend,
}

// Dispatch runs op on every connection matched by sel on behalf of port.
// Usage errors are returned before any connection is touched; per-relay
// failures are reported in the results.
func (p *Pool) Dispatch(port string, sel types.Selector, op types.Operation) ([]types.Result, error) {
	results, err := p.dispatch(port, sel, op)
	if err != nil {
		p.metrics.usageErrors.Add(1)
		return nil, err
	}
	p.refreshGauges()
	return results, nil
}

func (p *Pool) dispatch(port string, sel types.Selector, op types.Operation) ([]types.Result, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: %w: nil operation", types.ErrUsage, types.ErrUnknownOperation)
	}
	run, ok := dispatchTable[op.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %w %s", types.ErrUsage, types.ErrUnknownOperation, op.Kind())
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	targets := p.resolve(sel)
	if len(targets) == 0 && (sel.Kind == types.SelectBatch || sel.Kind == types.SelectSingle || op.Kind() == types.OpSubscribe) {
		return nil, fmt.Errorf("%w: %w: %s", types.ErrUsage, types.ErrNoMatchingRelay, sel)
	}
	return run(p, port, targets, op)
}

// Subscribe opens a subscription for port on the selected relays. An empty
// baseID gets a fresh random id per relay; a given baseID is shared by every
// relay. A selector matching no relay is a usage error.
func (p *Pool) Subscribe(port string, sel types.Selector, filters []types.Filter, baseID string, keepAlive bool) ([]types.Result, error) {
	return p.Dispatch(port, sel, types.SubscribeOp{Filters: filters, BaseID: baseID, KeepAlive: keepAlive})
}

// Publish sends event to the selected relays.
func (p *Pool) Publish(sel types.Selector, event json.RawMessage) ([]types.Result, error) {
	return p.Dispatch("", sel, types.PublishOp{Event: event})
}

// resolve returns the connections matched by a valid selector, in the order
// they were opened.
func (p *Pool) resolve(sel types.Selector) []transport.Conn {
	var out []transport.Conn
	for _, url := range p.order {
		conn := p.conns[url]
		if sel.Matches(url, conn.IsConnected()) {
			out = append(out, conn)
		}
	}
	return out
}

func (p *Pool) runSubscribe(port string, targets []transport.Conn, op types.Operation) ([]types.Result, error) {
	sub, ok := op.(types.SubscribeOp)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", types.ErrUsage, types.ErrUnknownOperation, op)
	}
	if !subid.ValidPort(port) {
		return nil, fmt.Errorf("%w: %w %q", types.ErrUsage, types.ErrInvalidPortID, port)
	}

	results := make([]types.Result, 0, len(targets))
	for _, conn := range targets {
		id, err := subid.Encode(port, sub.BaseID)
		if err != nil {
			return nil, err
		}
		res := conn.Subscribe(sub.Filters, string(id), sub.KeepAlive)
		if res.Err == nil {
			p.track(port, id, conn.URL(), sub.KeepAlive)
		}
		results = append(results, res)
	}

	if limit := p.cfg.MaxKeepAliveSubscriptions; sub.KeepAlive && limit > 0 {
		if n := len(p.ports.IDs(port)); n > limit {
			p.logger.Warn("port exceeds keep-alive subscription limit", "port", port, "subscriptions", n, "limit", limit)
		}
	}
	return results, nil
}

// track records that id, owned by port, is live on url.
func (p *Pool) track(port string, id subid.ID, url string, keepAlive bool) {
	rec := p.subs[id]
	if rec == nil {
		rec = &subRecord{port: port, relays: make(map[string]bool)}
		p.subs[id] = rec
	} else if rec.keepAlive && !keepAlive {
		p.ports.Drop(id)
	}
	rec.keepAlive = keepAlive
	rec.relays[url] = true
	if keepAlive {
		p.ports.Record(port, id)
	}
}

func (p *Pool) runUnsubscribe(port string, targets []transport.Conn, op types.Operation) ([]types.Result, error) {
	unsub, ok := op.(types.UnsubscribeOp)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", types.ErrUsage, types.ErrUnknownOperation, op)
	}
	id := subid.ID(unsub.SubID)
	if owner, ok := subid.Decode(id); !ok || owner != port {
		return nil, fmt.Errorf("%w: %w: subscription %q is not owned by port %q", types.ErrUsage, types.ErrInvalidPortID, unsub.SubID, port)
	}

	results := make([]types.Result, 0, len(targets))
	for _, conn := range targets {
		err := conn.Unsubscribe(unsub.SubID)
		results = append(results, types.Result{RelayURL: conn.URL(), SubID: unsub.SubID, Err: err})
		p.releaseRelay(id, conn.URL())
	}
	return results, nil
}

func (p *Pool) runPublish(_ string, targets []transport.Conn, op types.Operation) ([]types.Result, error) {
	pub, ok := op.(types.PublishOp)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", types.ErrUsage, types.ErrUnknownOperation, op)
	}
	results := make([]types.Result, 0, len(targets))
	for _, conn := range targets {
		results = append(results, conn.Publish(pub.Event))
	}
	return results, nil
}

func (p *Pool) runSend(_ string, targets []transport.Conn, op types.Operation) ([]types.Result, error) {
	send, ok := op.(types.SendOp)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", types.ErrUsage, types.ErrUnknownOperation, op)
	}
	results := make([]types.Result, 0, len(targets))
	for _, conn := range targets {
		results = append(results, types.Result{RelayURL: conn.URL(), Err: conn.Send(send.Payload)})
	}
	return results, nil
}

// ClosePort ends every subscription port owns on the relays where it is
// live and forgets the port. Connections stay open for other ports.
func (p *Pool) ClosePort(port string) int {
	ids := p.ports.Forget(port)
	for id, rec := range p.subs {
		if rec.port == port && !rec.keepAlive {
			ids = append(ids, id)
		}
	}

	closed := 0
	for _, id := range ids {
		rec, ok := p.subs[id]
		if !ok {
			continue
		}
		for url := range rec.relays {
			conn, live := p.conns[url]
			if !live {
				continue
			}
			if err := conn.Unsubscribe(string(id)); err != nil {
				p.logger.Debug("unsubscribe failed", "relay", url, "sub_id", id, "error", err)
			}
			closed++
		}
		delete(p.subs, id)
	}

	p.refreshGauges()
	p.logger.Debug("port closed", "port", port, "subscriptions", len(ids), "relay_closes", closed)
	return closed
}

// releaseRelay records that id is no longer live on url.
func (p *Pool) releaseRelay(id subid.ID, url string) {
	rec, ok := p.subs[id]
	if !ok {
		return
	}
	delete(rec.relays, url)
	if len(rec.relays) == 0 {
		delete(p.subs, id)
		if rec.keepAlive {
			p.ports.Drop(id)
		}
	}
}
