package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"nostr-relaypool/internal/bus"
	"nostr-relaypool/internal/config"
	"nostr-relaypool/internal/types"
)

// Command type names accepted on POST /command
const (
	CommandSwitchRelaySet  = "switchRelaySet"
	CommandAddRelayURLs    = "addRelayUrls"
	CommandQueryStatus     = "queryStatus"
	CommandQueryRelaySetID = "queryRelaySetId"
	CommandInvoke          = "invoke"
	CommandDisconnectAll   = "disconnectAll"
	CommandClosePort       = "closePort"
)

var errBadCommand = errors.New("bad command")

// commandRequest is the JSON body of POST /command
type commandRequest struct {
	Type      string          `json:"type"`
	RelaySet  *types.RelaySet `json:"relaySet,omitempty"`
	URLs      []string        `json:"urls,omitempty"`
	PortID    string          `json:"portId,omitempty"`
	Selector  selectorRequest `json:"selector"`
	Operation string          `json:"operation,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

type selectorRequest struct {
	Kind string   `json:"kind"`
	URLs []string `json:"urls,omitempty"`
}

type subscribeArgs struct {
	Filters   []types.Filter `json:"filters"`
	SubID     string         `json:"subId"`
	KeepAlive *bool          `json:"keepAlive"` // Defaults to true
}

type unsubscribeArgs struct {
	SubID string `json:"subId"`
}

type publishArgs struct {
	Event json.RawMessage `json:"event"`
}

type sendArgs struct {
	Payload json.RawMessage `json:"payload"`
}

// usageError wraps a decoding problem so callers can map it to 400.
func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", types.ErrUsage, errBadCommand, fmt.Sprintf(format, args...))
}

// decodeCommand turns a request body into a typed bus command.
func decodeCommand(req commandRequest) (bus.Command, error) {
	switch req.Type {
	case CommandSwitchRelaySet:
		if req.RelaySet == nil {
			return nil, usageError("relaySet is required")
		}
		set := req.RelaySet.Clone()
		if set.ID == "" {
			return nil, usageError("relaySet.id is required")
		}
		set.Relays = config.NormalizeEndpoints(set.Relays)
		return bus.SwitchRelaySet{Set: set}, nil

	case CommandAddRelayURLs:
		urls, err := config.NormalizeURLs(req.URLs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: urls: %w", types.ErrUsage, errBadCommand, err)
		}
		return bus.AddRelayURLs{URLs: urls}, nil

	case CommandQueryStatus:
		return bus.QueryStatus{}, nil

	case CommandQueryRelaySetID:
		return bus.QueryRelaySetID{}, nil

	case CommandDisconnectAll:
		return bus.DisconnectAll{}, nil

	case CommandClosePort:
		if req.PortID == "" {
			return nil, usageError("portId is required")
		}
		return bus.ClosePort{PortID: req.PortID}, nil

	case CommandInvoke:
		return decodeInvoke(req)

	case "":
		return nil, usageError("type is required")
	}
	return nil, usageError("unknown command type %q", req.Type)
}

func decodeInvoke(req commandRequest) (bus.Command, error) {
	kind, err := types.ParseSelectorKind(req.Selector.Kind)
	if err != nil {
		return nil, err
	}
	urls, err := config.NormalizeURLs(req.Selector.URLs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: selector urls: %w", types.ErrUsage, errBadCommand, err)
	}
	opKind, err := types.ParseOpKind(req.Operation)
	if err != nil {
		return nil, err
	}
	op, err := decodeOperation(opKind, req.Args)
	if err != nil {
		return nil, err
	}
	return bus.Invoke{
		PortID:   req.PortID,
		Selector: types.Selector{Kind: kind, URLs: urls},
		Op:       op,
	}, nil
}

func decodeOperation(kind types.OpKind, raw json.RawMessage) (types.Operation, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case types.OpSubscribe:
		var args subscribeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, usageError("subscribe args: %v", err)
		}
		if len(args.Filters) == 0 {
			return nil, usageError("subscribe needs at least one filter")
		}
		keepAlive := true
		if args.KeepAlive != nil {
			keepAlive = *args.KeepAlive
		}
		return types.SubscribeOp{Filters: args.Filters, BaseID: args.SubID, KeepAlive: keepAlive}, nil

	case types.OpUnsubscribe:
		var args unsubscribeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, usageError("unsubscribe args: %v", err)
		}
		if args.SubID == "" {
			return nil, usageError("unsubscribe needs subId")
		}
		return types.UnsubscribeOp{SubID: args.SubID}, nil

	case types.OpPublish:
		var args publishArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, usageError("publish args: %v", err)
		}
		if len(args.Event) == 0 {
			return nil, usageError("publish needs event")
		}
		return types.PublishOp{Event: args.Event}, nil

	case types.OpSend:
		var args sendArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, usageError("send args: %v", err)
		}
		if len(args.Payload) == 0 {
			return nil, usageError("send needs payload")
		}
		return types.SendOp{Payload: []byte(args.Payload)}, nil
	}
	return nil, fmt.Errorf("%w: %w %s", types.ErrUsage, types.ErrUnknownOperation, kind)
}
