package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/subid"
	"nostr-relaypool/internal/types"
	"nostr-relaypool/internal/util"
)

// SSE event types
const (
	SSEEventPort       = "port"
	SSEEventStatus     = "status"
	SSEEventRelaySetID = "relaySetId"
	SSEEventRelaySet   = "relaySet"
	SSEEventData       = "data"
	SSEEventPing       = "ping"
)

// Keep-alive interval for idle streams (prevents proxy/browser timeouts)
const ssePingInterval = 30 * time.Second

type portPayload struct {
	PortID string `json:"portId"`
}

type statusPayload struct {
	Status types.ConnectionStatus `json:"status"`
	Relays []string               `json:"relays"`
}

type relaySetIDPayload struct {
	ID string `json:"id"`
}

type dataPayload struct {
	Relay   string          `json:"relay"`
	PortID  string          `json:"portId,omitempty"`
	SubID   string          `json:"subId,omitempty"`
	Label   string          `json:"label,omitempty"`
	Message json.RawMessage `json:"message"`
}

// portFilter accepts every pool event except data owned by other ports.
func portFilter(port string) func(bus.Event) bool {
	return func(ev bus.Event) bool {
		data, ok := ev.(bus.InboundData)
		if !ok {
			return true
		}
		return data.PortID == "" || data.PortID == port
	}
}

// streamHandler serves GET /stream?port=<id>. The stream is the port: its
// subscriptions are released when the client goes away.
func (a *app) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "GET required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		util.RespondInternalError(w, "SSE not supported")
		return
	}

	port := r.URL.Query().Get("port")
	if port == "" {
		port = uuid.NewString()
	}
	if !subid.ValidPort(port) {
		util.RespondBadRequest(w, fmt.Sprintf("invalid port id %q", port))
		return
	}

	events, err := a.bus.Subscribe("sse:"+port, portFilter(port))
	if err != nil {
		if errors.Is(err, bus.ErrSubscriberExists) {
			util.RespondError(w, http.StatusConflict, "port already streaming")
			return
		}
		util.RespondServiceUnavailable(w, err.Error())
		return
	}
	defer a.releasePort(port)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Track SSE connection
	IncrementSSEConnections()
	defer DecrementSSEConnections()

	logger := LoggerFromContext(r.Context()).With("port", port)
	logger.Debug("SSE stream: client connected")

	sendSSEEvent(w, flusher, SSEEventPort, portPayload{PortID: port})

	// Current state for the new stream; broadcast to every stream.
	for _, cmd := range []bus.Command{bus.QueryStatus{}, bus.QueryRelaySetID{}} {
		if err := a.bus.TrySend(cmd); err != nil {
			logger.Debug("SSE stream: initial query not queued", "error", err)
		}
	}

	pingTicker := time.NewTicker(ssePingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("SSE stream: client disconnected")
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			writeBusEvent(w, flusher, ev)

		case <-pingTicker.C:
			sendSSEEvent(w, flusher, SSEEventPing, struct{}{})
		}
	}
}

// releasePort closes the stream's port, then drops its bus subscription.
// The port name stays taken until ClosePort is queued, so a reconnecting
// client's commands always land after it. The request context is already
// done, so ClosePort gets its own deadline.
func (a *app) releasePort(port string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.commandTimeout)
	defer cancel()
	if err := a.bus.Send(ctx, bus.ClosePort{PortID: port}); err != nil {
		slog.Warn("SSE stream: close port not queued", "port", port, "error", err)
	}
	if err := a.bus.Unsubscribe("sse:" + port); err != nil {
		slog.Debug("SSE stream: unsubscribe failed", "port", port, "error", err)
	}
}

func writeBusEvent(w http.ResponseWriter, flusher http.Flusher, ev bus.Event) {
	switch e := ev.(type) {
	case bus.StatusChanged:
		sendSSEEvent(w, flusher, SSEEventStatus, statusPayload{Status: e.Status, Relays: util.MapKeys(e.Status)})
	case bus.RelaySetID:
		sendSSEEvent(w, flusher, SSEEventRelaySetID, relaySetIDPayload{ID: e.ID})
	case bus.RelaySetChanged:
		sendSSEEvent(w, flusher, SSEEventRelaySet, e.Set)
	case bus.InboundData:
		sendSSEEvent(w, flusher, SSEEventData, dataPayload{
			Relay:   e.RelayURL,
			PortID:  e.PortID,
			SubID:   e.SubID,
			Label:   e.Label,
			Message: rawMessage(e.Payload),
		})
	}
}

// rawMessage embeds a relay frame verbatim, quoting it when it is not JSON.
func rawMessage(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

// sendSSEEvent sends a formatted SSE event to the client
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("SSE: failed to marshal event", "event", eventType, "error", err)
		return
	}

	// SSE format: "event: <type>\ndata: <json>\n\n"
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
