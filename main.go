package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/config"
	"nostr-relaypool/internal/pool"
	"nostr-relaypool/internal/transport"
)

// Request body size limits
const (
	maxBodySize = 256 * 1024 // 256KB for commands (publish carries whole events)
)

const shutdownTimeout = 10 * time.Second

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// securityHeaders wraps an HTTP handler to add security headers
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// JSON and event streams only; nothing may be framed or executed
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Referrer policy - don't leak full URLs to external sites
		w.Header().Set("Referrer-Policy", "no-referrer")

		next(w, r)
	}
}

func main() {
	InitLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relay pool stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("relay pool stopped")
}

// run wires the pool, the bus and the HTTP surface, and blocks until ctx is
// done or one of them fails.
func run(ctx context.Context, cfg *config.Config) error {
	store, backend := initRelaySetStore(ctx, cfg)
	defer backend.Close()

	b := bus.New(bus.Config{
		CommandQueueSize: cfg.CommandQueueSize,
		EventBufferSize:  cfg.EventBufferSize,
	}, nil)
	defer b.Close()

	transportCfg := transport.DefaultConfig()
	transportCfg.MaxSubscriptions = cfg.Relays.MaxSubscriptions
	transportCfg.AllowPrivate = cfg.AllowPrivateRelays
	p := pool.New(pool.Config{
		MaxKeepAliveSubscriptions: cfg.Relays.MaxKeepAliveSubscriptions,
		MonitorInterval:           cfg.MonitorInterval(),
		EventQueueSize:            cfg.EventBufferSize,
	}, transport.NewWebsocketDialer(transportCfg, nil), b, nil)

	relaySetChanges, err := b.Subscribe(relaySetSubscriber, acceptRelaySetChanges)
	if err != nil {
		return err
	}
	// Run has not started, so this goroutine still owns the pool.
	p.SwitchRelaySet(initialRelaySet(ctx, store, cfg.Relays.RelaySet))

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newApp(b, p.Stats).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return p.Run(gctx, b.Commands())
	})
	g.Go(func() error {
		persistRelaySets(gctx, relaySetChanges, store)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
