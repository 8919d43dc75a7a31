package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"nostr-relaypool/internal/nostr"
	"nostr-relaypool/internal/types"
)

// DefaultRelaySetID names the embedded seed relay set.
const DefaultRelaySetID = "default"

// RelaysConfig represents the JSON configuration for the pool
type RelaysConfig struct {
	RelaySet                  types.RelaySet `json:"relaySet"`
	MaxSubscriptions          int            `json:"maxSubscriptions"`          // Per connection; extra REQs wait as pending
	MaxKeepAliveSubscriptions int            `json:"maxKeepAliveSubscriptions"` // Per port; advisory
	MonitorIntervalSeconds    int            `json:"monitorIntervalSeconds"`    // 0 disables the status monitor
}

// LoadRelaysConfig reads path, falling back to the embedded defaults when the
// file is missing or unreadable. Fields the file omits keep their defaults.
func LoadRelaysConfig(path string) *RelaysConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", path)
		} else {
			slog.Warn("could not read config, using defaults", "path", path, "error", err)
		}
		return DefaultRelaysConfig()
	}

	config := DefaultRelaysConfig()
	config.RelaySet = types.RelaySet{}
	if err := json.Unmarshal(data, config); err != nil {
		slog.Error("invalid JSON in config, using defaults", "path", path, "error", err)
		return DefaultRelaysConfig()
	}

	config.RelaySet.Relays = NormalizeEndpoints(config.RelaySet.Relays)
	if len(config.RelaySet.Relays) == 0 {
		slog.Warn("config has no usable relays, using default relay set", "path", path)
		config.RelaySet = DefaultRelaysConfig().RelaySet
	}
	if config.RelaySet.ID == "" {
		config.RelaySet.ID = DefaultRelaySetID
	}

	slog.Info("loaded relays configuration",
		"path", path,
		"relay_set", config.RelaySet.ID,
		"relays", len(config.RelaySet.Relays),
		"max_subscriptions", config.MaxSubscriptions,
		"max_keep_alive_subscriptions", config.MaxKeepAliveSubscriptions)
	return config
}

// NormalizeEndpoints normalizes relay URLs, dropping invalid and duplicate ones.
func NormalizeEndpoints(endpoints []types.RelayEndpoint) []types.RelayEndpoint {
	out := make([]types.RelayEndpoint, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		url, err := nostr.NormalizeRelayURL(ep.URL)
		if err != nil {
			slog.Warn("dropping invalid relay URL", "url", ep.URL, "error", err)
			continue
		}
		if seen[url] {
			continue
		}
		seen[url] = true
		ep.URL = url
		out = append(out, ep)
	}
	return out
}

// NormalizeURLs normalizes relay URLs received at runtime, keeping order and
// duplicates. The first rejected URL stops it.
func NormalizeURLs(urls []string) ([]string, error) {
	var out []string
	for _, raw := range urls {
		url, err := nostr.NormalizeRelayURL(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", raw, err)
		}
		out = append(out, url)
	}
	return out, nil
}

// DefaultRelaysConfig returns the embedded default configuration
func DefaultRelaysConfig() *RelaysConfig {
	urls := []string{
		"wss://relay.damus.io",
		"wss://relay.nostr.band",
		"wss://relay.primal.net",
		"wss://nos.lol",
		"wss://nostr.mom",
	}
	set := types.RelaySet{ID: DefaultRelaySetID}
	for _, url := range urls {
		set.Relays = append(set.Relays, types.DefaultEndpoint(url))
	}
	return &RelaysConfig{
		RelaySet:                  set,
		MaxSubscriptions:          10,
		MaxKeepAliveSubscriptions: 2,
		MonitorIntervalSeconds:    10,
	}
}
