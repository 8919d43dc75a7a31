package pool

import "sync/atomic"

// metrics are written by the pool goroutine and read from anywhere.
type metrics struct {
	commands     atomic.Int64
	usageErrors  atomic.Int64
	inbound      atomic.Int64
	unattributed atomic.Int64
	staleEvents  atomic.Int64

	relaysKnown    atomic.Int64
	relaysOpen     atomic.Int64
	keepAlivePorts atomic.Int64
	subscriptions  atomic.Int64
}

// Stats is a point-in-time copy of the pool counters.
type Stats struct {
	Commands       int64
	UsageErrors    int64
	Inbound        int64
	Unattributed   int64
	StaleEvents    int64
	RelaysKnown    int64
	RelaysOpen     int64
	KeepAlivePorts int64
	Subscriptions  int64
}

// Stats returns the pool counters. Safe to call from any goroutine.
func (p *Pool) Stats() Stats {
	m := &p.metrics
	return Stats{
		Commands:       m.commands.Load(),
		UsageErrors:    m.usageErrors.Load(),
		Inbound:        m.inbound.Load(),
		Unattributed:   m.unattributed.Load(),
		StaleEvents:    m.staleEvents.Load(),
		RelaysKnown:    m.relaysKnown.Load(),
		RelaysOpen:     m.relaysOpen.Load(),
		KeepAlivePorts: m.keepAlivePorts.Load(),
		Subscriptions:  m.subscriptions.Load(),
	}
}

// refreshGauges publishes the current state sizes to the gauges.
func (p *Pool) refreshGauges() {
	p.metrics.relaysKnown.Store(int64(len(p.status)))
	p.metrics.relaysOpen.Store(int64(p.status.Connected()))
	p.metrics.keepAlivePorts.Store(int64(p.ports.Len()))
	p.metrics.subscriptions.Store(int64(len(p.subs)))
}
