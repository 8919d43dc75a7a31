// Package subid builds relay subscription ids that carry the owning port.
//
// An id has the form "<port>:<base>". Relays treat it as opaque; the pool
// decodes the port back out of it to attribute inbound frames. Ports may not
// contain the separator, bases may.
package subid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"nostr-relaypool/internal/types"
)

// Separator joins the port and base parts.
const Separator = ":"

// ID is a subscription id unique per (port, base) pair.
type ID string

func (id ID) String() string { return string(id) }

// NewBase returns a random base id: a v4 UUID without dashes, 122 random bits
// in 32 characters so encoded ids stay under the 64 character limit most
// relays enforce.
func NewBase() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidPort reports whether port can be encoded losslessly.
func ValidPort(port string) bool {
	return port != "" && !strings.Contains(port, Separator)
}

// Encode combines port and base. An empty base is replaced by NewBase.
func Encode(port, base string) (ID, error) {
	if !ValidPort(port) {
		return "", fmt.Errorf("%w: %w %q", types.ErrUsage, types.ErrInvalidPortID, port)
	}
	if base == "" {
		base = NewBase()
	}
	return ID(port + Separator + base), nil
}

// Decode returns the port that owns id. ok is false for ids this codec did
// not produce.
func Decode(id ID) (port string, ok bool) {
	port, _, ok = strings.Cut(string(id), Separator)
	if !ok || port == "" {
		return "", false
	}
	return port, true
}

// Base returns the base part of id.
func Base(id ID) string {
	_, base, _ := strings.Cut(string(id), Separator)
	return base
}
