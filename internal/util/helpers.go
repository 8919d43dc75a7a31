package util

import (
	"sort"
	"strings"
)

// =============================================================================
// Host Validation Helpers
// =============================================================================

// IsInternalHost checks if a hostname is internal/private and should not be accessed.
// Used to prevent SSRF attacks by blocking requests to internal networks.
func IsInternalHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

// IsLoopbackHost checks if a hostname resolves to localhost.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		host == "[::1]"
}

// =============================================================================
// Collection Helpers
// =============================================================================

// MapKeys returns the keys of a map in sorted order when K is a string,
// otherwise in map iteration order.
func MapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	if strs, ok := any(keys).([]string); ok {
		sort.Strings(strs)
	}
	return keys
}

// SortedCopy returns a sorted copy of a string slice.
// The input slice is not modified.
func SortedCopy(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}
