package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/transport"
	"nostr-relaypool/internal/transport/transporttest"
	"nostr-relaypool/internal/types"
)

type unknownCommand struct{ bus.SwitchRelaySet }

func TestHandleCommandReplies(t *testing.T) {
	p, d, rec := newTestPool(t)

	p.HandleCommand(bus.Envelope{Command: bus.SwitchRelaySet{Set: relaySet("g1", "wss://a")}})
	d.Latest("wss://a").Open()
	p.drainEvents()

	replies := make(chan bus.Reply, 1)
	p.HandleCommand(bus.Envelope{
		Command: bus.Invoke{PortID: "p1", Selector: types.Connected(), Op: types.SubscribeOp{Filters: []types.Filter{{}}, KeepAlive: true}},
		Reply:   replies,
	})
	reply := <-replies
	require.NoError(t, reply.Err)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, "wss://a", reply.Results[0].RelayURL)

	p.HandleCommand(bus.Envelope{Command: bus.Invoke{PortID: "p1", Selector: types.Batch(), Op: types.SendOp{}}, Reply: replies})
	assert.ErrorIs(t, (<-replies).Err, types.ErrEmptyBatch)

	p.HandleCommand(bus.Envelope{Command: unknownCommand{}, Reply: replies})
	assert.ErrorIs(t, (<-replies).Err, types.ErrUsage)

	p.HandleCommand(bus.Envelope{Command: bus.QueryRelaySetID{}})
	assert.Equal(t, bus.RelaySetID{ID: "g1"}, rec.events[len(rec.events)-1])

	p.HandleCommand(bus.Envelope{Command: bus.ClosePort{PortID: "p1"}})
	assert.Empty(t, p.KeepAlivePorts())

	p.HandleCommand(bus.Envelope{Command: bus.DisconnectAll{}})
	assert.Empty(t, p.ConnectionStatusSnapshot())
	assert.Equal(t, int64(7), p.Stats().Commands)
}

func waitEvent[T bus.Event](t *testing.T, ch <-chan bus.Event, match func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "subscriber channel closed")
			if typed, ok := ev.(T); ok && match(typed) {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestRunOverBus(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), nil)
	defer b.Close()
	d := transporttest.NewDialer()
	cfg := DefaultConfig()
	cfg.MonitorInterval = 5 * time.Millisecond
	p := New(cfg, d, b, nil)

	events, err := b.Subscribe("test", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, b.Commands()) }()

	_, err = b.Request(ctx, bus.SwitchRelaySet{Set: relaySet("g1", "wss://a", "wss://b")})
	require.NoError(t, err)
	waitEvent(t, events, func(s bus.StatusChanged) bool { return len(s.Status) == 2 })

	d.Latest("wss://a").Open()
	waitEvent(t, events, func(s bus.StatusChanged) bool { return s.Status["wss://a"] })

	reply, err := b.Request(ctx, bus.Invoke{
		PortID:   "p1",
		Selector: types.Single("wss://a"),
		Op:       types.SubscribeOp{Filters: []types.Filter{{"kinds": []int{1}}}, BaseID: "feed", KeepAlive: true},
	})
	require.NoError(t, err)
	require.NoError(t, reply.Err)
	assert.Equal(t, "p1:feed", reply.Results[0].SubID)

	d.Latest("wss://a").Deliver(transport.LabelEvent, "p1:feed", []byte(`["EVENT","p1:feed",{}]`))
	data := waitEvent(t, events, func(in bus.InboundData) bool { return in.SubID == "p1:feed" })
	assert.Equal(t, "p1", data.PortID)
	assert.Equal(t, "wss://a", data.RelayURL)

	require.NoError(t, b.Send(ctx, bus.QueryRelaySetID{}))
	waitEvent(t, events, func(id bus.RelaySetID) bool { return id.ID == "g1" })

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.True(t, d.Latest("wss://a").Closed())
	assert.True(t, d.Latest("wss://b").Closed())
}
