package pool

// RelayReport is one connected relay's subscription load.
type RelayReport struct {
	URL     string `json:"url"`
	Active  int    `json:"active"`
	Pending int    `json:"pending"`
}

// StatusReport is what the periodic monitor observes.
type StatusReport struct {
	KeepAlivePorts int           `json:"keepAlivePorts"`
	Relays         []RelayReport `json:"relays"`
}

// Report collects keep-alive port count and per-connected-relay
// subscription counts. It never changes pool state.
func (p *Pool) Report() StatusReport {
	report := StatusReport{KeepAlivePorts: p.ports.Len()}
	for _, url := range p.sortedURLs() {
		conn := p.conns[url]
		if !conn.IsConnected() {
			continue
		}
		report.Relays = append(report.Relays, RelayReport{
			URL:     url,
			Active:  conn.ActiveSubscriptionCount(),
			Pending: conn.PendingSubscriptionCount(),
		})
	}
	return report
}

// logStatus is the monitor tick. A panic while observing is logged and
// swallowed so the worker loop keeps running.
func (p *Pool) logStatus() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("status monitor failed", "panic", r)
		}
	}()

	report := p.Report()
	p.logger.Debug("port subscriptions (keep-alive only)", "ports", report.KeepAlivePorts, "port_ids", p.ports.Ports())
	for _, r := range report.Relays {
		p.logger.Debug("relay subscriptions", "relay", r.URL, "active", r.Active, "pending", r.Pending)
	}
}
