package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-relaypool/internal/types"
)

// recordingHandler funnels callbacks into channels.
type recordingHandler struct {
	opened   chan Conn
	errs     chan error
	closed   chan Conn
	messages chan Message
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan Conn, 4),
		errs:     make(chan error, 4),
		closed:   make(chan Conn, 4),
		messages: make(chan Message, 64),
	}
}

func (h *recordingHandler) OnOpen(c Conn)                 { h.opened <- c }
func (h *recordingHandler) OnError(c Conn, err error)     { h.errs <- err }
func (h *recordingHandler) OnClose(c Conn)                { h.closed <- c }
func (h *recordingHandler) OnMessage(c Conn, msg Message) { h.messages <- msg }

// fakeRelay is a minimal relay: it records frames and answers each REQ
// with one EVENT and an EOSE.
type fakeRelay struct {
	server     *httptest.Server
	frames     chan []any
	closeCodes chan int
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{frames: make(chan []any, 64), closeCodes: make(chan int, 4)}
	upgrader := websocket.Upgrader{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame []any
			if err := conn.ReadJSON(&frame); err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					r.closeCodes <- ce.Code
				}
				return
			}
			r.frames <- frame
			if len(frame) >= 2 && frame[0] == "REQ" {
				subID := frame[1]
				conn.WriteJSON([]any{"EVENT", subID, map[string]any{"id": "e1", "kind": 1}})
				conn.WriteJSON([]any{"EOSE", subID})
			}
		}
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *fakeRelay) nextFrame(t *testing.T) []any {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func waitMessage(t *testing.T, h *recordingHandler) Message {
	t.Helper()
	select {
	case m := <-h.messages:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func testDialer(limit int) *WebsocketDialer {
	cfg := DefaultConfig()
	cfg.MaxSubscriptions = limit
	cfg.AllowPrivate = true
	return NewWebsocketDialer(cfg, nil)
}

func TestWebsocketSubscribeOneShot(t *testing.T) {
	relay := newFakeRelay(t)
	h := newRecordingHandler()

	conn := testDialer(10).Dial(relay.url(), h)
	defer conn.Close()

	// Queued until the socket opens, then flushed.
	res := conn.Subscribe([]types.Filter{{"kinds": []int{1}}}, "p1:feed", false)
	require.NoError(t, res.Err)

	select {
	case <-h.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never opened")
	}
	assert.True(t, conn.IsConnected())

	req := relay.nextFrame(t)
	assert.Equal(t, "REQ", req[0])
	assert.Equal(t, "p1:feed", req[1])

	ev := waitMessage(t, h)
	assert.Equal(t, LabelEvent, ev.Label)
	assert.Equal(t, "p1:feed", ev.SubID)
	assert.Contains(t, string(ev.Raw), `"e1"`)

	eose := waitMessage(t, h)
	assert.Equal(t, LabelEOSE, eose.Label)

	// One-shot subscriptions are closed after EOSE.
	closeFrame := relay.nextFrame(t)
	assert.Equal(t, []any{"CLOSE", "p1:feed"}, closeFrame)
	assert.Equal(t, 0, conn.ActiveSubscriptionCount())
}

func TestWebsocketPendingBeyondLimit(t *testing.T) {
	relay := newFakeRelay(t)
	h := newRecordingHandler()

	conn := testDialer(1).Dial(relay.url(), h)
	defer conn.Close()
	<-h.opened

	first := conn.Subscribe([]types.Filter{{"kinds": []int{1}}}, "p1:a", true)
	require.NoError(t, first.Err)
	assert.False(t, first.Queued)

	second := conn.Subscribe([]types.Filter{{"kinds": []int{7}}}, "p1:b", true)
	require.NoError(t, second.Err)
	assert.True(t, second.Queued)
	assert.Equal(t, 1, conn.ActiveSubscriptionCount())
	assert.Equal(t, 1, conn.PendingSubscriptionCount())

	assert.Equal(t, "p1:a", relay.nextFrame(t)[1])

	require.NoError(t, conn.Unsubscribe("p1:a"))
	assert.Equal(t, []any{"CLOSE", "p1:a"}, relay.nextFrame(t))
	assert.Equal(t, "p1:b", relay.nextFrame(t)[1])
	assert.Equal(t, 0, conn.PendingSubscriptionCount())
}

func TestWebsocketPublish(t *testing.T) {
	relay := newFakeRelay(t)
	h := newRecordingHandler()

	conn := testDialer(10).Dial(relay.url(), h)
	defer conn.Close()

	<-h.opened
	res := conn.Publish(json.RawMessage(`{"id":"abc"}`))
	require.NoError(t, res.Err)

	frame := relay.nextFrame(t)
	assert.Equal(t, "EVENT", frame[0])
	assert.Equal(t, map[string]any{"id": "abc"}, frame[1])

	res = conn.Publish(json.RawMessage(`{not json`))
	assert.ErrorIs(t, res.Err, ErrInvalidPayload)
}

func TestWebsocketCloseReportsOnce(t *testing.T) {
	relay := newFakeRelay(t)
	h := newRecordingHandler()

	conn := testDialer(10).Dial(relay.url(), h)
	<-h.opened

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.False(t, conn.IsConnected())
	assert.Empty(t, h.errs, "closing locally is not an error")

	res := conn.Subscribe([]types.Filter{{}}, "p1:x", true)
	assert.ErrorIs(t, res.Err, ErrClosed)
}

func TestWebsocketCloseHandshakeLeavesCallerFree(t *testing.T) {
	relay := newFakeRelay(t)
	h := newRecordingHandler()

	conn := testDialer(10).Dial(relay.url(), h)
	<-h.opened

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case code := <-relay.closeCodes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw a close frame")
	}
	<-h.closed
	assert.Empty(t, h.errs)
}

func TestWebsocketDialFailure(t *testing.T) {
	h := newRecordingHandler()
	conn := testDialer(10).Dial("ws://127.0.0.1:1", h)

	select {
	case err := <-h.errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dial error not reported")
	}
	<-h.closed
	assert.False(t, conn.IsConnected())
}

func TestUnsafeURLRejected(t *testing.T) {
	h := newRecordingHandler()
	d := NewWebsocketDialer(DefaultConfig(), nil)
	d.Dial("http://example.com", h)

	select {
	case err := <-h.errs:
		assert.True(t, errors.Is(err, ErrUnsafeURL))
	case <-time.After(2 * time.Second):
		t.Fatal("unsafe url not rejected")
	}
	<-h.closed
}

func TestParseFrame(t *testing.T) {
	cases := []struct {
		raw   string
		label string
		subID string
	}{
		{`["EVENT","p1:a",{"id":"x"}]`, LabelEvent, "p1:a"},
		{`["EOSE","p1:a"]`, LabelEOSE, "p1:a"},
		{`["CLOSED","p1:a","error: shutting down"]`, LabelClosed, "p1:a"},
		{`["NOTICE","slow down"]`, LabelNotice, ""},
		{`["OK","eventid",true,""]`, LabelOK, ""},
		{`{"not":"an array"}`, "", ""},
		{`garbage`, "", ""},
	}
	for _, tc := range cases {
		label, subID := parseFrame([]byte(tc.raw))
		assert.Equal(t, tc.label, label, tc.raw)
		assert.Equal(t, tc.subID, subID, tc.raw)
	}
}

func TestPublishBeforeOpen(t *testing.T) {
	c := &relayConn{url: "wss://relay.example", out: make(chan []byte, 1), active: map[string]*subscription{}}
	res := c.Publish(json.RawMessage(`{"id":"abc"}`))
	assert.ErrorIs(t, res.Err, ErrNotConnected)
	assert.Equal(t, "wss://relay.example", res.RelayURL)
}

func TestSendQueueFull(t *testing.T) {
	c := &relayConn{
		cfg:    Config{MaxSubscriptions: 10},
		url:    "wss://relay.example",
		state:  stateOpen,
		out:    make(chan []byte, 1),
		active: map[string]*subscription{},
	}
	require.NoError(t, c.Send([]byte(`["NOTICE"]`)))
	assert.ErrorIs(t, c.Send([]byte(`["NOTICE"]`)), ErrSendQueueFull)

	res := c.Subscribe([]types.Filter{{}}, "p1:a", true)
	assert.ErrorIs(t, res.Err, ErrSendQueueFull)
	assert.Equal(t, 0, c.ActiveSubscriptionCount())
}
