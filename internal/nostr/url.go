// Package nostr holds relay addressing rules shared by configuration and the
// command surface.
package nostr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nostr-relaypool/internal/util"
)

// ErrInvalidRelayURL is wrapped by every NormalizeRelayURL rejection.
var ErrInvalidRelayURL = errors.New("invalid relay url")

func reject(reason string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrInvalidRelayURL, reason)
}

// NormalizeRelayURL returns the canonical form of a relay URL: lowercase
// scheme and host, no trailing slash. Pool connections are keyed by this
// form, so every URL entering the pool (relay sets, added relays, selector
// targets) must pass through here. The error says why a URL was rejected.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return reject("empty")
	case !strings.Contains(raw, "://"):
		return reject("missing scheme")
	case strings.Count(raw, "://") > 1:
		return reject("repeated scheme")
	case strings.Contains(raw, "%20") || strings.Contains(raw, "+"):
		return reject("encoded whitespace")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return reject(err.Error())
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return reject("scheme must be ws or wss")
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case len(host) < 3:
		return reject("host too short")
	case strings.Contains(host, " "):
		return reject("host contains spaces")
	case !strings.Contains(host, ".") && !util.IsLoopbackHost(host):
		return reject("host is not a domain")
	case util.IsInternalHost(host):
		return reject("internal host")
	}

	normalized := scheme + "://" + host
	if port := parsed.Port(); port != "" {
		normalized += ":" + port
	}
	if parsed.Path != "" && parsed.Path != "/" {
		normalized += strings.TrimSuffix(parsed.Path, "/")
	}
	return normalized, nil
}
