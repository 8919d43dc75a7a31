package pool

import (
	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/subid"
	"nostr-relaypool/internal/transport"
)

type connEventKind int

const (
	connOpened connEventKind = iota
	connErrored
	connClosed
	connMessage
)

// connEvent is a transport callback queued for the pool goroutine.
type connEvent struct {
	kind connEventKind
	conn transport.Conn
	err  error
	msg  transport.Message
}

// connHandler is the transport.Handler shared by every connection. It only
// queues; the pool goroutine applies the events.
type connHandler struct {
	events  chan<- connEvent
	stopped <-chan struct{}
}

func (h *connHandler) OnOpen(c transport.Conn) {
	h.enqueue(connEvent{kind: connOpened, conn: c})
}

func (h *connHandler) OnError(c transport.Conn, err error) {
	h.enqueue(connEvent{kind: connErrored, conn: c, err: err})
}

func (h *connHandler) OnClose(c transport.Conn) {
	h.enqueue(connEvent{kind: connClosed, conn: c})
}

func (h *connHandler) OnMessage(c transport.Conn, msg transport.Message) {
	h.enqueue(connEvent{kind: connMessage, conn: c, msg: msg})
}

// enqueue blocks while the queue is full so slow processing pushes back on
// the relay sockets. It gives up once the pool has stopped.
func (h *connHandler) enqueue(ev connEvent) {
	select {
	case h.events <- ev:
	case <-h.stopped:
	}
}

// applyConnEvent updates pool state for one transport event.
func (p *Pool) applyConnEvent(ev connEvent) {
	if !p.isCurrent(ev.conn) {
		p.metrics.staleEvents.Add(1)
		return
	}
	url := ev.conn.URL()

	switch ev.kind {
	case connOpened:
		if ev.conn.IsConnected() {
			p.logger.Info("relay connected", "relay", url)
			p.setStatus(url, true)
		}
	case connErrored:
		p.logger.Warn("relay connection error", "relay", url, "error", ev.err)
		p.setStatus(url, false)
	case connClosed:
		if p.status[url] {
			p.logger.Info("relay connection closed", "relay", url)
		}
		p.setStatus(url, false)
	case connMessage:
		p.routeMessage(url, ev.msg)
	}
}

// routeMessage tags an inbound frame with its owning port and publishes it.
// Frames for subscriptions the pool no longer tracks (closed ports, ended
// one-shots) are dropped.
func (p *Pool) routeMessage(url string, msg transport.Message) {
	p.metrics.inbound.Add(1)

	out := bus.InboundData{
		RelayURL: url,
		SubID:    msg.SubID,
		Label:    msg.Label,
		Payload:  msg.Raw,
	}

	if msg.SubID != "" {
		id := subid.ID(msg.SubID)
		rec, ok := p.subs[id]
		if !ok || !rec.relays[url] {
			p.metrics.unattributed.Add(1)
			p.logger.Debug("frame for unknown subscription dropped", "relay", url, "sub_id", msg.SubID, "label", msg.Label)
			return
		}
		out.PortID = rec.port

		if msg.Label == transport.LabelClosed || (msg.Label == transport.LabelEOSE && !rec.keepAlive) {
			p.releaseRelay(id, url)
			p.refreshGauges()
		}
	}

	p.publish(out)
}
