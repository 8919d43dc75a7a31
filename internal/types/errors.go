package types

import "errors"

// Usage errors are caller mistakes. They are reported synchronously and
// never affect pool state.
var (
	ErrUsage            = errors.New("usage error")
	ErrEmptyBatch       = errors.New("batch selector requires at least one relay url")
	ErrSingleArity      = errors.New("single selector requires exactly one relay url")
	ErrUnknownSelector  = errors.New("unknown selector kind")
	ErrNoMatchingRelay  = errors.New("selector matched no relay connection")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidPortID    = errors.New("invalid port id")
)

// IsUsageError reports whether err is a caller mistake rather than a
// transport failure.
func IsUsageError(err error) bool {
	return errors.Is(err, ErrUsage)
}
