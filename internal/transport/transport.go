// Package transport is the relay connection collaborator used by the pool.
//
// A Conn is one long-lived connection to one relay. Dialing returns
// immediately; the socket opens in the background and lifecycle changes are
// reported through the Handler from the connection's own goroutines.
package transport

import (
	"encoding/json"
	"errors"
	"time"

	"nostr-relaypool/internal/types"
)

// Errors
var (
	ErrNotConnected   = errors.New("relay not connected")
	ErrClosed         = errors.New("relay connection closed")
	ErrSendQueueFull  = errors.New("relay send queue full")
	ErrUnsafeURL      = errors.New("relay URL blocked: unsafe destination")
	ErrEmptySubID     = errors.New("empty subscription id")
	ErrNoFilters      = errors.New("subscription needs at least one filter")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// Frame labels as sent by relays.
const (
	LabelEvent  = "EVENT"
	LabelEOSE   = "EOSE"
	LabelClosed = "CLOSED"
	LabelNotice = "NOTICE"
	LabelOK     = "OK"
	LabelAuth   = "AUTH"
)

// Message is one inbound frame. Raw is the frame exactly as received; Label
// and SubID are filled in when the frame has the usual array shape.
type Message struct {
	Label      string
	SubID      string
	Raw        []byte
	ReceivedAt time.Time
}

// Conn is a connection to a single relay.
type Conn interface {
	// URL returns the relay URL this connection was dialed with.
	URL() string

	// IsConnected reports whether the socket is open.
	IsConnected() bool

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Send writes a raw frame.
	Send(payload []byte) error

	// Subscribe sends a REQ, or queues it when the connection is not open
	// yet or already holds its maximum number of subscriptions.
	Subscribe(filters []types.Filter, subID string, keepAlive bool) types.Result

	// Unsubscribe ends a subscription, sending CLOSE if it was active.
	Unsubscribe(subID string) error

	// Publish sends an EVENT frame carrying event.
	Publish(event json.RawMessage) types.Result

	// ActiveSubscriptionCount returns subscriptions sent to the relay.
	ActiveSubscriptionCount() int

	// PendingSubscriptionCount returns subscriptions waiting for a slot.
	PendingSubscriptionCount() int
}

// Handler receives lifecycle callbacks and inbound frames. Callbacks run on
// the connection's goroutines and may block to apply back-pressure.
type Handler interface {
	OnOpen(c Conn)
	OnError(c Conn, err error)
	OnClose(c Conn)
	OnMessage(c Conn, msg Message)
}

// Dialer creates connections.
type Dialer interface {
	Dial(url string, h Handler) Conn
}

// parseFrame extracts the label and subscription id from a relay frame
// without decoding the rest of it.
func parseFrame(raw []byte) (label, subID string) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return "", ""
	}
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return "", ""
	}
	switch label {
	case LabelEvent, LabelEOSE, LabelClosed:
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &subID)
		}
	}
	return label, subID
}

func reqFrame(subID string, filters []types.Filter) ([]byte, error) {
	frame := make([]any, 0, len(filters)+2)
	frame = append(frame, "REQ", subID)
	for _, f := range filters {
		frame = append(frame, f)
	}
	return json.Marshal(frame)
}

func closeFrame(subID string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", subID})
}

func eventFrame(event json.RawMessage) ([]byte, error) {
	if !json.Valid(event) {
		return nil, ErrInvalidPayload
	}
	return json.Marshal([]any{"EVENT", event})
}
