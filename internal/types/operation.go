package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpKind is the closed set of operations the pool can route to relays.
type OpKind int

const (
	OpSubscribe OpKind = iota + 1
	OpUnsubscribe
	OpPublish
	OpSend
)

var opNames = map[OpKind]string{
	OpSubscribe:   "subscribe",
	OpUnsubscribe: "unsubscribe",
	OpPublish:     "publish",
	OpSend:        "send",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// ParseOpKind maps an operation name from the command surface to its kind.
func ParseOpKind(name string) (OpKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, n := range opNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %w %q", ErrUsage, ErrUnknownOperation, name)
}

// Filter is a relay subscription filter. The pool forwards it untouched.
type Filter map[string]any

// Operation is one routable request. Implementations are the payload
// structs below; the pool resolves them through its dispatch table.
type Operation interface {
	Kind() OpKind
}

// SubscribeOp opens a subscription on every selected connection.
// BaseID may be empty, in which case a random one is generated.
type SubscribeOp struct {
	Filters   []Filter
	BaseID    string
	KeepAlive bool
}

func (SubscribeOp) Kind() OpKind { return OpSubscribe }

// UnsubscribeOp ends one subscription on every selected connection.
type UnsubscribeOp struct {
	SubID string
}

func (UnsubscribeOp) Kind() OpKind { return OpUnsubscribe }

// PublishOp sends an already-signed event to every selected connection.
type PublishOp struct {
	Event json.RawMessage
}

func (PublishOp) Kind() OpKind { return OpPublish }

// SendOp writes a raw frame to every selected connection.
type SendOp struct {
	Payload []byte
}

func (SendOp) Kind() OpKind { return OpSend }

// Result is the per-relay outcome of an operation. Err is a transport
// level failure for that relay only.
type Result struct {
	RelayURL string `json:"relay"`
	SubID    string `json:"subId,omitempty"`
	Queued   bool   `json:"queued,omitempty"`
	Err      error  `json:"-"`
}

// MarshalJSON renders Err as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
