// Package types provides shared type definitions used across internal packages.
package types

// RelayEndpoint is one relay in a relay set with its read/write intent.
type RelayEndpoint struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// RelaySet is an identified, ordered list of relay endpoints. It is the
// unit the pool switches all connections to at once.
type RelaySet struct {
	ID     string          `json:"id"`
	Relays []RelayEndpoint `json:"relays"`
}

// URLs returns the relay URLs in set order, skipping duplicates.
func (s RelaySet) URLs() []string {
	seen := make(map[string]bool, len(s.Relays))
	urls := make([]string, 0, len(s.Relays))
	for _, r := range s.Relays {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		urls = append(urls, r.URL)
	}
	return urls
}

// Has reports whether url is part of the set.
func (s RelaySet) Has(url string) bool {
	for _, r := range s.Relays {
		if r.URL == url {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate the pool's active set.
func (s RelaySet) Clone() RelaySet {
	relays := make([]RelayEndpoint, len(s.Relays))
	copy(relays, s.Relays)
	return RelaySet{ID: s.ID, Relays: relays}
}

// DefaultEndpoint returns the endpoint used for relays added ad hoc.
func DefaultEndpoint(url string) RelayEndpoint {
	return RelayEndpoint{URL: url, Read: true, Write: true}
}

// ConnectionStatus maps relay URL to whether the connection is currently open.
type ConnectionStatus map[string]bool

// Clone returns an independent copy of the status map.
func (s ConnectionStatus) Clone() ConnectionStatus {
	out := make(ConnectionStatus, len(s))
	for url, connected := range s {
		out[url] = connected
	}
	return out
}

// Connected returns the number of relays currently marked connected.
func (s ConnectionStatus) Connected() int {
	n := 0
	for _, ok := range s {
		if ok {
			n++
		}
	}
	return n
}
