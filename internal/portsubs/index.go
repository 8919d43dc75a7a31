// Package portsubs tracks which keep-alive subscriptions each port holds.
//
// Index is pure bookkeeping and is not safe for concurrent use; the pool
// only touches it from its worker goroutine.
package portsubs

import (
	"sort"

	"nostr-relaypool/internal/subid"
)

// Index maps port id to the keep-alive subscription ids it owns. A given
// subscription id belongs to at most one port.
type Index struct {
	ports  map[string][]subid.ID
	owners map[subid.ID]string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		ports:  make(map[string][]subid.ID),
		owners: make(map[subid.ID]string),
	}
}

// Record adds id to port's set. Recording an id twice is a no-op. An id
// already owned by another port is moved to this one.
func (x *Index) Record(port string, id subid.ID) {
	if owner, ok := x.owners[id]; ok {
		if owner == port {
			return
		}
		x.remove(owner, id)
	}
	x.ports[port] = append(x.ports[port], id)
	x.owners[id] = port
}

// Forget removes port and returns every id it held, in record order.
func (x *Index) Forget(port string) []subid.ID {
	ids, ok := x.ports[port]
	if !ok {
		return nil
	}
	delete(x.ports, port)
	for _, id := range ids {
		delete(x.owners, id)
	}
	return ids
}

// Drop removes a single id, deleting the port entry when it empties.
func (x *Index) Drop(id subid.ID) {
	if owner, ok := x.owners[id]; ok {
		x.remove(owner, id)
		delete(x.owners, id)
	}
}

// Owner returns the port holding id.
func (x *Index) Owner(id subid.ID) (string, bool) {
	port, ok := x.owners[id]
	return port, ok
}

// IDs returns a copy of port's ids.
func (x *Index) IDs(port string) []subid.ID {
	ids := x.ports[port]
	if ids == nil {
		return nil
	}
	out := make([]subid.ID, len(ids))
	copy(out, ids)
	return out
}

// Ports returns the ports that currently hold subscriptions, sorted.
func (x *Index) Ports() []string {
	out := make([]string, 0, len(x.ports))
	for port := range x.ports {
		out = append(out, port)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of ports with at least one subscription.
func (x *Index) Len() int { return len(x.ports) }

func (x *Index) remove(port string, id subid.ID) {
	ids := x.ports[port]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(x.ports, port)
		return
	}
	x.ports[port] = ids
}
