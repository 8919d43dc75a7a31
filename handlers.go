package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/pool"
	"nostr-relaypool/internal/types"
	"nostr-relaypool/internal/util"
)

// Default time a command may wait for queue space or a reply
const defaultCommandTimeout = 5 * time.Second

// app holds what the HTTP handlers need.
type app struct {
	bus            *bus.Bus
	poolStats      func() pool.Stats
	commandTimeout time.Duration
}

func newApp(b *bus.Bus, poolStats func() pool.Stats) *app {
	return &app{bus: b, poolStats: poolStats, commandTimeout: defaultCommandTimeout}
}

// routes builds the daemon's HTTP handler.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", securityHeaders(limitBody(a.commandHandler, maxBodySize)))
	mux.HandleFunc("/stream", securityHeaders(a.streamHandler))
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/metrics", a.metricsHandler)
	return RequestLoggingMiddleware(mux)
}

type commandResponse struct {
	Status  string         `json:"status"`
	Results []types.Result `json:"results,omitempty"`
}

// commandHandler decodes POST /command and hands it to the pool.
// invoke waits for the per-relay results; everything else is queued.
func (a *app) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		util.RespondMethodNotAllowed(w, "POST required")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.RespondBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	cmd, err := decodeCommand(req)
	if err != nil {
		util.RespondBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.commandTimeout)
	defer cancel()
	logger := LoggerFromContext(r.Context())

	if _, ok := cmd.(bus.Invoke); ok {
		reply, err := a.bus.Request(ctx, cmd)
		if err != nil {
			a.respondBusError(w, err)
			return
		}
		if reply.Err != nil {
			if types.IsUsageError(reply.Err) {
				util.RespondBadRequest(w, reply.Err.Error())
				return
			}
			logger.Error("invoke failed", "error", reply.Err)
			util.RespondInternalError(w, reply.Err.Error())
			return
		}
		util.WriteJSON(w, http.StatusOK, commandResponse{Status: "ok", Results: reply.Results})
		return
	}

	if err := a.bus.Send(ctx, cmd); err != nil {
		a.respondBusError(w, err)
		return
	}
	logger.Debug("command queued", "type", req.Type)
	util.WriteJSON(w, http.StatusAccepted, commandResponse{Status: "queued"})
}

// respondBusError maps a full queue, a timeout or a stopped pool to 503.
func (a *app) respondBusError(w http.ResponseWriter, err error) {
	commandsRejectedTotal.Add(1)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, bus.ErrFull):
		w.Header().Set("Retry-After", "1")
		util.RespondServiceUnavailable(w, "command queue full")
	case errors.Is(err, bus.ErrClosed):
		util.RespondServiceUnavailable(w, "pool stopped")
	default:
		util.RespondServiceUnavailable(w, err.Error())
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	CacheBackend string `json:"cache_backend"`
	RelaysKnown  int64  `json:"relays_known"`
	RelaysOpen   int64  `json:"relays_open"`
}

func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.poolStats()
	status := "ok"
	if stats.RelaysKnown > 0 && stats.RelaysOpen == 0 {
		status = "degraded"
	}
	util.WriteJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		CacheBackend: cacheBackendType,
		RelaysKnown:  stats.RelaysKnown,
		RelaysOpen:   stats.RelaysOpen,
	})
}
