package bridge

import (
	"encoding/json"
	"testing"

	"sake/internal/session"
)

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name: "StateChangedAccounts",
			env:  Envelope{Command: CmdStateChanged, StateID: session.StateAccounts},
		},
		{
			name: "StateChangedSessions",
			env:  Envelope{Command: CmdStateChanged, StateID: StateSessions},
		},
		{
			name:    "StateChangedUnknownStateID",
			env:     Envelope{Command: CmdStateChanged, StateID: "mystery"},
			wantErr: true,
		},
		{
			name: "GetState",
			env:  Envelope{Command: CmdGetState, StateID: session.StateHistory, RequestID: "r1"},
		},
		{
			name:    "GetStateWithoutRequestID",
			env:     Envelope{Command: CmdGetState, StateID: session.StateHistory},
			wantErr: true,
		},
		{
			name:    "GetStateWithoutStateID",
			env:     Envelope{Command: CmdGetState, RequestID: "r1"},
			wantErr: true,
		},
		{
			name: "Signal",
			env:  Envelope{Command: CmdSignal, Payload: json.RawMessage(`{"name":"chainReset"}`)},
		},
		{
			name:    "SignalWithoutPayload",
			env:     Envelope{Command: CmdSignal},
			wantErr: true,
		},
		{
			name: "Ack",
			env:  Envelope{Command: CmdAck, RequestID: "r2"},
		},
		{
			name:    "AckWithoutRequestID",
			env:     Envelope{Command: CmdAck},
			wantErr: true,
		},
		{
			name:    "MissingCommand",
			env:     Envelope{},
			wantErr: true,
		},
		{
			name:    "UnknownCommand",
			env:     Envelope{Command: "teleport"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Command:   CmdStateValue,
		StateID:   session.StateAccounts,
		RequestID: "req-7",
		Payload:   json.RawMessage(`[{"address":"0xabc"}]`),
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Command != env.Command || decoded.StateID != env.StateID || decoded.RequestID != env.RequestID {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}
