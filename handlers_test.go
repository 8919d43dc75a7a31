package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/pool"
	"nostr-relaypool/internal/transport/transporttest"
	"nostr-relaypool/internal/types"
)

type testDaemon struct {
	bus    *bus.Bus
	dialer *transporttest.Dialer
	server *httptest.Server
}

// startDaemon runs a pool over fake relays behind the real HTTP surface.
func startDaemon(t *testing.T, queueSize int) *testDaemon {
	t.Helper()
	b := bus.New(bus.Config{CommandQueueSize: queueSize, EventBufferSize: 64}, nil)
	d := transporttest.NewDialer()
	cfg := pool.DefaultConfig()
	cfg.MonitorInterval = 0
	p := pool.New(cfg, d, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, b.Commands())
	}()

	a := newApp(b, p.Stats)
	a.commandTimeout = time.Second
	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		b.Close()
	})
	return &testDaemon{bus: b, dialer: d, server: srv}
}

func (td *testDaemon) post(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(td.server.URL+"/command", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

// waitOpen opens url's fake connection once the pool has dialed it.
func (td *testDaemon) waitOpen(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool { return td.dialer.Latest(url) != nil }, time.Second, time.Millisecond)
	td.dialer.Latest(url).Open()
}

func TestCommandEndpoint(t *testing.T) {
	td := startDaemon(t, 16)

	resp, out := td.post(t, `{"type":"switchRelaySet","relaySet":{"id":"g1","relays":[{"url":"wss://relay.one.com","read":true,"write":true}]}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", out["status"])
	td.waitOpen(t, "wss://relay.one.com")

	var results []any
	require.Eventually(t, func() bool {
		resp, out := td.post(t, `{"type":"invoke","portId":"p1","operation":"subscribe","args":{"filters":[{"kinds":[1]}],"subId":"feed"}}`)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		results, _ = out["results"].([]any)
		return len(results) == 1
	}, time.Second, 10*time.Millisecond)
	first := results[0].(map[string]any)
	assert.Equal(t, "wss://relay.one.com", first["relay"])
	assert.Equal(t, "p1:feed", first["subId"])

	resp, out = td.post(t, `{"type":"invoke","portId":"p1","selector":{"kind":"batch"},"operation":"send","args":{"payload":[]}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "empty batch")

	resp, _ = td.post(t, `{"type":"invoke","operation":"zap"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = td.post(t, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(td.server.URL + "/command")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestCommandEndpointQueueFull(t *testing.T) {
	b := bus.New(bus.Config{CommandQueueSize: 1, EventBufferSize: 1}, nil)
	defer b.Close()
	require.NoError(t, b.TrySend(bus.QueryStatus{}))

	a := newApp(b, func() pool.Stats { return pool.Stats{} })
	a.commandTimeout = 20 * time.Millisecond

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"type":"queryStatus"}`))
	a.commandHandler(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, r *bufio.Reader, out chan<- sseEvent) {
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			close(out)
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", name)
			return sseEvent{}
		}
	}
}

func TestStreamDeliversPortEvents(t *testing.T) {
	td := startDaemon(t, 16)
	td.post(t, `{"type":"switchRelaySet","relaySet":{"id":"g1","relays":[{"url":"wss://relay.one.com","read":true,"write":true}]}}`)
	td.waitOpen(t, "wss://relay.one.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, td.server.URL+"/stream?port=p1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 64)
	go readEvents(t, bufio.NewReader(resp.Body), events)

	assert.JSONEq(t, `{"portId":"p1"}`, nextEvent(t, events, SSEEventPort).data)
	assert.JSONEq(t, `{"id":"g1"}`, nextEvent(t, events, SSEEventRelaySetID).data)

	_, out := td.post(t, `{"type":"invoke","portId":"p1","operation":"subscribe","args":{"filters":[{}],"subId":"feed"}}`)
	require.Equal(t, "ok", out["status"])
	_, out = td.post(t, `{"type":"invoke","portId":"p2","operation":"subscribe","args":{"filters":[{}],"subId":"other"}}`)
	require.Equal(t, "ok", out["status"])

	conn := td.dialer.Latest("wss://relay.one.com")
	conn.Deliver("EVENT", "p2:other", []byte(`["EVENT","p2:other",{"id":"x"}]`))
	conn.Deliver("EVENT", "p1:feed", []byte(`["EVENT","p1:feed",{"id":"y"}]`))

	data := nextEvent(t, events, SSEEventData)
	assert.JSONEq(t, `{"relay":"wss://relay.one.com","portId":"p1","subId":"p1:feed","label":"EVENT","message":["EVENT","p1:feed",{"id":"y"}]}`, data.data)

	// Second stream on the same port is refused.
	dup, err := http.Get(td.server.URL + "/stream?port=p1")
	require.NoError(t, err)
	dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	cancel()
	require.Eventually(t, func() bool {
		for _, id := range conn.Unsubscribes() {
			if id == "p1:feed" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "closing the stream closes its port")
	assert.NotContains(t, conn.Unsubscribes(), "p2:other")
}

func TestStreamReconnectKeepsNewSubscriptions(t *testing.T) {
	td := startDaemon(t, 16)
	td.post(t, `{"type":"switchRelaySet","relaySet":{"id":"g1","relays":[{"url":"wss://relay.one.com","read":true,"write":true}]}}`)
	td.waitOpen(t, "wss://relay.one.com")
	conn := td.dialer.Latest("wss://relay.one.com")

	openStream := func(ctx context.Context) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, td.server.URL+"/stream?port=p1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	firstCtx, firstCancel := context.WithCancel(context.Background())
	first := openStream(firstCtx)
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstEvents := make(chan sseEvent, 64)
	go readEvents(t, bufio.NewReader(first.Body), firstEvents)
	nextEvent(t, firstEvents, SSEEventPort)

	_, out := td.post(t, `{"type":"invoke","portId":"p1","operation":"subscribe","args":{"filters":[{}],"subId":"feed"}}`)
	require.Equal(t, "ok", out["status"])

	firstCancel()
	first.Body.Close()

	// The port name is free again only once the old stream has queued its
	// ClosePort, so anything the new stream does is ordered after it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var second *http.Response
	require.Eventually(t, func() bool {
		resp := openStream(ctx)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		second = resp
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer second.Body.Close()
	events := make(chan sseEvent, 64)
	go readEvents(t, bufio.NewReader(second.Body), events)
	nextEvent(t, events, SSEEventPort)

	_, out = td.post(t, `{"type":"invoke","portId":"p1","operation":"subscribe","args":{"filters":[{}],"subId":"feed2"}}`)
	require.Equal(t, "ok", out["status"])

	assert.Contains(t, conn.Unsubscribes(), "p1:feed")
	assert.NotContains(t, conn.Unsubscribes(), "p1:feed2")

	conn.Deliver("EVENT", "p1:feed2", []byte(`["EVENT","p1:feed2",{"id":"z"}]`))
	data := nextEvent(t, events, SSEEventData)
	assert.Contains(t, data.data, `"subId":"p1:feed2"`)
}

func TestStreamRejectsInvalidPort(t *testing.T) {
	td := startDaemon(t, 4)
	resp, err := http.Get(td.server.URL + "/stream?port=a:b")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	td := startDaemon(t, 4)

	resp, err := http.Get(td.server.URL + "/health")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(td.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body strings.Builder
	_, err = bufio.NewReader(resp.Body).WriteTo(&body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "relaypool_relay_connections 0")
	assert.Contains(t, body.String(), "# TYPE relaypool_bus_events_dropped_total counter")
}

func TestPortFilter(t *testing.T) {
	accept := portFilter("p1")
	assert.True(t, accept(bus.InboundData{PortID: "p1"}))
	assert.True(t, accept(bus.InboundData{}))
	assert.False(t, accept(bus.InboundData{PortID: "p2"}))
	assert.True(t, accept(bus.StatusChanged{Status: types.ConnectionStatus{}}))
}

func TestRawMessage(t *testing.T) {
	assert.Equal(t, json.RawMessage(`["NOTICE","x"]`), rawMessage([]byte(`["NOTICE","x"]`)))
	assert.Equal(t, json.RawMessage(`"not json"`), rawMessage([]byte(`not json`)))
}
