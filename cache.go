package main

import (
	"context"
	"errors"
	"log/slog"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/cache"
	"nostr-relaypool/internal/config"
	"nostr-relaypool/internal/relayset"
	"nostr-relaypool/internal/types"
)

// Cache backend type for health reporting
var cacheBackendType string // "redis" or "memory"

// relaySetSubscriber is the bus subscriber that persists relay set changes.
const relaySetSubscriber = "relayset-store"

// initRelaySetStore opens the cache backend (Redis if REDIS_URL is set,
// otherwise memory) and wraps it in a relay set store.
func initRelaySetStore(ctx context.Context, cfg *config.Config) (*relayset.Store, cache.CacheBackend) {
	cacheCfg := cache.DefaultCacheConfig()
	cacheCfg.RedisURL = cfg.RedisURL
	backend, backendType := cache.New(ctx, cacheCfg)
	cacheBackendType = backendType
	return relayset.NewStore(backend, nil), backend
}

// initialRelaySet prefers the relay set saved by a previous run.
func initialRelaySet(ctx context.Context, store *relayset.Store, configured types.RelaySet) types.RelaySet {
	saved, err := store.Load(ctx)
	switch {
	case err == nil && len(saved.Relays) > 0:
		slog.Info("restoring saved relay set", "relay_set", saved.ID, "relays", len(saved.Relays))
		return saved
	case err != nil && !errors.Is(err, relayset.ErrNotFound):
		slog.Warn("could not load saved relay set, using configured set", "error", err)
	}
	return configured
}

func acceptRelaySetChanges(ev bus.Event) bool {
	_, ok := ev.(bus.RelaySetChanged)
	return ok
}

// persistRelaySets saves every relay set the pool switches to until ctx is
// done or the bus closes.
func persistRelaySets(ctx context.Context, events <-chan bus.Event, store *relayset.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			changed, ok := ev.(bus.RelaySetChanged)
			if !ok {
				continue
			}
			if err := store.Save(ctx, changed.Set); err != nil {
				slog.Warn("could not save relay set", "relay_set", changed.Set.ID, "error", err)
			}
		}
	}
}
