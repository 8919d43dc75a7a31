package bus

import (
	"nostr-relaypool/internal/types"
)

// Command is an inbound request for the pool.
type Command interface{ isCommand() }

// SwitchRelaySet replaces every connection with those of Set.
type SwitchRelaySet struct{ Set types.RelaySet }

// AddRelayURLs opens connections for URLs not yet in the pool.
type AddRelayURLs struct{ URLs []string }

// QueryStatus asks for a StatusChanged broadcast.
type QueryStatus struct{}

// QueryRelaySetID asks for a RelaySetID broadcast.
type QueryRelaySetID struct{}

// Invoke routes Op to the connections matched by Selector on behalf of PortID.
type Invoke struct {
	PortID   string
	Selector types.Selector
	Op       types.Operation
}

// DisconnectAll closes every connection.
type DisconnectAll struct{}

// ClosePort releases every subscription owned by PortID.
type ClosePort struct{ PortID string }

func (SwitchRelaySet) isCommand()  {}
func (AddRelayURLs) isCommand()    {}
func (QueryStatus) isCommand()     {}
func (QueryRelaySetID) isCommand() {}
func (Invoke) isCommand()          {}
func (DisconnectAll) isCommand()   {}
func (ClosePort) isCommand()       {}

// Event is an outbound notification from the pool.
type Event interface{ isEvent() }

// InboundData is one frame received from a relay. PortID is empty for frames
// that belong to no subscription (NOTICE, OK) or to ids the pool did not issue.
type InboundData struct {
	RelayURL string
	PortID   string
	SubID    string
	Label    string
	Payload  []byte
}

// StatusChanged carries a snapshot of the connection status map.
type StatusChanged struct{ Status types.ConnectionStatus }

// RelaySetID carries the id of the active relay set.
type RelaySetID struct{ ID string }

// RelaySetChanged carries the active relay set after a switch or an add.
type RelaySetChanged struct{ Set types.RelaySet }

func (InboundData) isEvent()     {}
func (StatusChanged) isEvent()   {}
func (RelaySetID) isEvent()      {}
func (RelaySetChanged) isEvent() {}

// Reply answers a command sent with Request.
type Reply struct {
	Results []types.Result
	Err     error
}

// Envelope pairs a command with the channel its reply goes to. Reply is nil
// for fire-and-forget commands.
type Envelope struct {
	Command Command
	Reply   chan<- Reply
}

// Respond delivers r if the sender asked for a reply. Never blocks.
func (e Envelope) Respond(r Reply) {
	if e.Reply == nil {
		return
	}
	select {
	case e.Reply <- r:
	default:
	}
}
