package types

import (
	"fmt"
	"strings"
)

// SelectorKind identifies which subset of connections a command targets.
type SelectorKind int

const (
	SelectConnected SelectorKind = iota
	SelectAll
	SelectBatch
	SelectSingle
)

func (k SelectorKind) String() string {
	switch k {
	case SelectAll:
		return "all"
	case SelectConnected:
		return "connected"
	case SelectBatch:
		return "batch"
	case SelectSingle:
		return "single"
	default:
		return fmt.Sprintf("selector(%d)", int(k))
	}
}

// ParseSelectorKind maps the wire name of a selector to its kind. An empty
// name selects connected relays.
func ParseSelectorKind(name string) (SelectorKind, error) {
	switch strings.ToLower(name) {
	case "", "connected":
		return SelectConnected, nil
	case "all":
		return SelectAll, nil
	case "batch":
		return SelectBatch, nil
	case "single":
		return SelectSingle, nil
	}
	return 0, fmt.Errorf("%w: %w %q", ErrUsage, ErrUnknownSelector, name)
}

// Selector describes which connections a command is routed to.
type Selector struct {
	Kind SelectorKind
	URLs []string
}

// All targets every known connection.
func All() Selector { return Selector{Kind: SelectAll} }

// Connected targets connections whose socket is open.
func Connected() Selector { return Selector{Kind: SelectConnected} }

// Batch targets the connections for the given urls.
func Batch(urls ...string) Selector { return Selector{Kind: SelectBatch, URLs: urls} }

// Single targets exactly one connection.
func Single(url string) Selector { return Selector{Kind: SelectSingle, URLs: []string{url}} }

// Validate checks the URL list against the selector kind.
func (s Selector) Validate() error {
	switch s.Kind {
	case SelectAll, SelectConnected:
		return nil
	case SelectBatch:
		if len(s.URLs) == 0 {
			return fmt.Errorf("%w: %w", ErrUsage, ErrEmptyBatch)
		}
		return nil
	case SelectSingle:
		if len(s.URLs) != 1 {
			return fmt.Errorf("%w: %w (got %d)", ErrUsage, ErrSingleArity, len(s.URLs))
		}
		return nil
	}
	return fmt.Errorf("%w: %w %s", ErrUsage, ErrUnknownSelector, s.Kind)
}

// Matches reports whether a connection to url in the given state is
// targeted. The selector must already be valid.
func (s Selector) Matches(url string, connected bool) bool {
	switch s.Kind {
	case SelectAll:
		return true
	case SelectConnected:
		return connected
	case SelectBatch:
		for _, u := range s.URLs {
			if u == url {
				return true
			}
		}
		return false
	case SelectSingle:
		return s.URLs[0] == url
	}
	return false
}

func (s Selector) String() string {
	if len(s.URLs) == 0 {
		return s.Kind.String()
	}
	return s.Kind.String() + "(" + strings.Join(s.URLs, ",") + ")"
}
