package transport

import (
	"context"
	"net"
	"net/url"

	"nostr-relaypool/internal/util"
)

// IsRelayURLSafe validates that a relay URL is safe to connect to.
// Loopback is allowed for development; other private ranges are blocked.
func IsRelayURLSafe(ctx context.Context, relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	if util.IsLoopbackHost(host) {
		return true
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		// Unresolvable names may still be valid external hosts, but
		// obvious internal names are rejected.
		if host[len(host)-1] == '.' || util.IsInternalHost(host) {
			return false
		}
		return true
	}

	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}
	return true
}

var metadataIP = net.ParseIP("169.254.169.254")

// isRelayIPSafe allows loopback but blocks other private ranges.
func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	if ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	// Cloud metadata endpoint
	return !ip.Equal(metadataIP)
}
