package main

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// HTTP metrics
var (
	httpRequestsTotal     atomic.Int64
	httpErrorsTotal       atomic.Int64
	commandsRejectedTotal atomic.Int64
)

// SSE connection metrics
var (
	sseConnectionsActive atomic.Int64
)

var serverStartTime = time.Now()

// SSE connection tracking
func IncrementSSEConnections() {
	sseConnectionsActive.Add(1)
}

func DecrementSSEConnections() {
	sseConnectionsActive.Add(-1)
}

// writeMetric renders one metric family with a single sample.
func writeMetric(w http.ResponseWriter, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n\n", name, value)
}

// metricsHandler serves Prometheus-compatible metrics
func (a *app) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Build info metric
	fmt.Fprintf(w, "# HELP relaypool_build_info Build and configuration information\n")
	fmt.Fprintf(w, "# TYPE relaypool_build_info gauge\n")
	fmt.Fprintf(w, "relaypool_build_info{cache_backend=%q,go_version=%q} 1\n\n", cacheBackendType, runtime.Version())

	// Process metrics
	writeMetric(w, "process_start_time_seconds", "gauge", "Unix timestamp of process start", serverStartTime.Unix())
	writeMetric(w, "process_uptime_seconds", "gauge", "Time since process started", fmt.Sprintf("%.0f", time.Since(serverStartTime).Seconds()))

	// Go runtime metrics
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	writeMetric(w, "go_goroutines", "gauge", "Number of active goroutines", runtime.NumGoroutine())
	writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Currently allocated memory in bytes", memStats.Alloc)
	writeMetric(w, "go_gc_cycles_total", "counter", "Number of completed GC cycles", memStats.NumGC)

	// HTTP metrics
	writeMetric(w, "http_requests_total", "counter", "Total number of HTTP requests", httpRequestsTotal.Load())
	writeMetric(w, "http_errors_total", "counter", "Total number of HTTP 5xx errors", httpErrorsTotal.Load())
	writeMetric(w, "sse_connections_active", "gauge", "Number of active SSE streams", sseConnectionsActive.Load())

	// Pool metrics
	stats := a.poolStats()
	writeMetric(w, "relaypool_relay_connections", "gauge", "Relay connections known to the pool", stats.RelaysKnown)
	writeMetric(w, "relaypool_relay_connections_open", "gauge", "Relay connections with an open socket", stats.RelaysOpen)
	writeMetric(w, "relaypool_keepalive_ports", "gauge", "Ports holding keep-alive subscriptions", stats.KeepAlivePorts)
	writeMetric(w, "relaypool_subscriptions", "gauge", "Subscriptions the pool is attributing", stats.Subscriptions)
	writeMetric(w, "relaypool_commands_total", "counter", "Commands processed by the pool", stats.Commands)
	writeMetric(w, "relaypool_usage_errors_total", "counter", "Commands rejected as usage errors", stats.UsageErrors)
	writeMetric(w, "relaypool_inbound_messages_total", "counter", "Frames received from relays", stats.Inbound)
	writeMetric(w, "relaypool_unattributed_messages_total", "counter", "Frames dropped for unknown subscriptions", stats.Unattributed)
	writeMetric(w, "relaypool_stale_events_total", "counter", "Transport events from replaced connections", stats.StaleEvents)

	// Bus metrics
	writeMetric(w, "relaypool_commands_rejected_total", "counter", "Commands refused because the queue was full or the pool stopped", commandsRejectedTotal.Load())
	writeMetric(w, "relaypool_bus_events_published_total", "counter", "Events published on the bus", a.bus.Published())
	writeMetric(w, "relaypool_bus_events_dropped_total", "counter", "Events dropped for slow subscribers", a.bus.Dropped())
	writeMetric(w, "relaypool_bus_subscribers", "gauge", "Event subscribers attached to the bus", a.bus.Subscribers())
}
