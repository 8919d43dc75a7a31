// Package relayset persists the active relay set so a restarted daemon
// reconnects to the same relays.
package relayset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"nostr-relaypool/internal/cache"
	"nostr-relaypool/internal/types"
)

// ActiveKey is the cache key holding the active relay set.
const ActiveKey = "relayset:active"

// ErrNotFound is returned by Load when nothing has been saved.
var ErrNotFound = errors.New("relay set not found")

// Store reads and writes relay sets through a cache backend.
type Store struct {
	backend cache.CacheBackend
	group   singleflight.Group
	logger  *slog.Logger
}

// NewStore creates a store. A nil logger uses slog.Default().
func NewStore(backend cache.CacheBackend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger.With("component", "relayset")}
}

// Load returns the saved relay set. Concurrent callers share one backend read.
func (s *Store) Load(ctx context.Context) (types.RelaySet, error) {
	result, err, shared := s.group.Do(ActiveKey, func() (interface{}, error) {
		return s.load(ctx)
	})
	if shared {
		s.logger.Debug("singleflight: shared relay set load")
	}
	if err != nil {
		return types.RelaySet{}, err
	}
	return result.(types.RelaySet).Clone(), nil
}

func (s *Store) load(ctx context.Context) (types.RelaySet, error) {
	data, found, err := s.backend.Get(ctx, ActiveKey)
	if err != nil {
		return types.RelaySet{}, fmt.Errorf("read relay set: %w", err)
	}
	if !found {
		return types.RelaySet{}, ErrNotFound
	}
	var set types.RelaySet
	if err := json.Unmarshal(data, &set); err != nil {
		return types.RelaySet{}, fmt.Errorf("decode relay set: %w", err)
	}
	return set, nil
}

// Save stores set as the active relay set. It never expires.
func (s *Store) Save(ctx context.Context, set types.RelaySet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode relay set: %w", err)
	}
	if err := s.backend.Set(ctx, ActiveKey, data, 0); err != nil {
		return fmt.Errorf("write relay set: %w", err)
	}
	s.logger.Debug("relay set saved", "relay_set", set.ID, "relays", len(set.Relays))
	return nil
}

// Clear removes the saved relay set.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, ActiveKey)
}
