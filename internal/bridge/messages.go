// Package bridge relays state between the session registry and the detached
// UI surface over a websocket. Outbound it translates "the active session's
// store changed" into tagged broadcasts; inbound it services on-demand state
// pulls, each reply correlated to its request by an explicit id.
package bridge

import (
	"encoding/json"
	"fmt"

	"sake/internal/session"
)

// Commands of the bridge protocol. Messages without a RequestID are one-way
// broadcasts; messages with one expect exactly one reply echoing the id.
const (
	// CmdStateChanged is a server→UI broadcast: StateID names the concern,
	// Payload carries its full new value.
	CmdStateChanged = "stateChanged"
	// CmdGetState is a UI→server pull for the current value of StateID.
	CmdGetState = "getState"
	// CmdStateValue answers CmdGetState, echoing the RequestID.
	CmdStateValue = "stateValue"
	// CmdSignal is a broadcast carrying a named event (notification,
	// chain reset, restart request).
	CmdSignal = "signal"
	// CmdAck is a UI→server reply to a signal that requested one.
	CmdAck = "ack"
	// CmdError reports a rejected request, echoing its RequestID.
	CmdError = "error"
)

// State ids served by the bridge: the per-session concerns plus the shared,
// session-independent ones.
const (
	StateSessions          = "sessions"
	StateCompiledContracts = "compiledContracts"
)

// Envelope is the wire message shared by both directions.
type Envelope struct {
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	StateID   string          `json:"stateId,omitempty"`
}

// SignalPayload is the payload of CmdSignal.
type SignalPayload struct {
	Name    string `json:"name"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// Signal names. Notification, chainReset and restart travel server→UI;
// reconnect travels UI→server and asks for the active session's chain to be
// re-established.
const (
	SignalNotification = "notification"
	SignalChainReset   = "chainReset"
	SignalRestart      = "restart"
	SignalReconnect    = "reconnect"
)

func validStateID(id string) bool {
	switch id {
	case session.StateAccounts, session.StateDeployments, session.StateHistory,
		StateSessions, StateCompiledContracts:
		return true
	}
	return false
}

// Validate checks the tagged-union invariants at the bridge boundary, so
// both sides can rely on shape instead of runtime duck typing.
func (e *Envelope) Validate() error {
	switch e.Command {
	case CmdStateChanged, CmdStateValue:
		if !validStateID(e.StateID) {
			return fmt.Errorf("%s: unknown state id %q", e.Command, e.StateID)
		}
	case CmdGetState:
		if !validStateID(e.StateID) {
			return fmt.Errorf("getState: unknown state id %q", e.StateID)
		}
		if e.RequestID == "" {
			return fmt.Errorf("getState: missing request id")
		}
	case CmdSignal:
		if len(e.Payload) == 0 {
			return fmt.Errorf("signal: missing payload")
		}
	case CmdAck:
		if e.RequestID == "" {
			return fmt.Errorf("ack: missing request id")
		}
	case CmdError:
		// Always valid; payload is a free-form message.
	case "":
		return fmt.Errorf("missing command")
	default:
		return fmt.Errorf("unknown command %q", e.Command)
	}
	return nil
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// State values are plain data structs; a marshal failure is a
		// programming error, surfaced as a null payload.
		return json.RawMessage("null")
	}
	return data
}
