package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sake/internal/session"
	"sake/internal/state"
	"sake/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type hubFixture struct {
	hub      *Hub
	registry *session.Registry
	compiled *state.Store[[]types.CompiledContract]
	srv      *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	compiled := state.New([]types.CompiledContract(nil))
	registry := session.NewRegistry(nil)
	hub := NewHub(nil, registry, compiled)
	registry.SetMirror(hub)
	srv := httptest.NewServer(hub.Handler())

	f := &hubFixture{hub: hub, registry: registry, compiled: compiled, srv: srv}
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })

	// Round trip once so the server has definitely registered this client
	// before the test triggers any broadcast.
	require.NoError(t, ws.WriteJSON(Envelope{Command: CmdGetState, StateID: StateSessions, RequestID: "dial-sync"}))
	env := readEnvelope(t, ws)
	require.Equal(t, "dial-sync", env.RequestID)
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

// awaitState reads until a stateChanged broadcast for stateID arrives.
func awaitState(t *testing.T, ws *websocket.Conn, stateID string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, ws)
		if env.Command == CmdStateChanged && env.StateID == stateID {
			return env
		}
	}
	t.Fatalf("no %s broadcast within deadline", stateID)
	return Envelope{}
}

func addConnectedSession(t *testing.T, f *hubFixture, name string, accounts ...string) *session.Session {
	t.Helper()
	addrs := make([]types.Address, len(accounts))
	for i, a := range accounts {
		addrs[i] = types.Address(a)
	}
	s, err := session.New(session.Options{
		DisplayName: name,
		Kind:        types.KindLocalNode,
		Adapter:     &stubAdapter{accounts: addrs},
		Notifier:    f.hub,
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, f.registry.Add(s))
	return s
}

func TestSessionListBroadcast(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	addConnectedSession(t, f, "alpha")

	env := awaitState(t, ws, StateSessions)
	var infos []session.Info
	require.NoError(t, json.Unmarshal(env.Payload, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "alpha", infos[0].DisplayName)
}

func TestGetStateCorrelation(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	s := addConnectedSession(t, f, "alpha", "0xAAAA567890123456789012345678901234567890")
	require.NoError(t, f.registry.Select(s.ID()))

	require.NoError(t, ws.WriteJSON(Envelope{
		Command:   CmdGetState,
		StateID:   session.StateAccounts,
		RequestID: "req-1",
	}))

	// The reply is matched by id, not by position: broadcasts from the
	// select may arrive first.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, ws)
		if env.RequestID != "req-1" {
			continue
		}
		assert.Equal(t, CmdStateValue, env.Command)
		assert.Equal(t, session.StateAccounts, env.StateID)
		var accounts []types.Account
		require.NoError(t, json.Unmarshal(env.Payload, &accounts))
		require.Len(t, accounts, 1)
		assert.Equal(t, types.Address("0xaaaa567890123456789012345678901234567890"), accounts[0].Address)
		return
	}
	t.Fatal("no correlated reply")
}

func TestGetStateWithoutActiveSession(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(Envelope{
		Command:   CmdGetState,
		StateID:   session.StateDeployments,
		RequestID: "req-2",
	}))

	env := readEnvelope(t, ws)
	require.Equal(t, "req-2", env.RequestID)
	assert.Equal(t, CmdStateValue, env.Command)
	var deployments []types.DeployedContract
	require.NoError(t, json.Unmarshal(env.Payload, &deployments))
	assert.Empty(t, deployments, "zero active sessions answers empty state")
}

func TestInvalidMessageRejected(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(Envelope{
		Command:   CmdGetState,
		StateID:   "mystery",
		RequestID: "req-3",
	}))

	env := readEnvelope(t, ws)
	assert.Equal(t, CmdError, env.Command)
	assert.Equal(t, "req-3", env.RequestID)
}

func TestActiveSessionStoreChangesReachUI(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	s := addConnectedSession(t, f, "alpha", "0xAAAA567890123456789012345678901234567890")
	require.NoError(t, f.registry.Select(s.ID()))
	awaitState(t, ws, session.StateAccounts)

	require.NoError(t, s.SetLabel(context.Background(), "0xAAAA567890123456789012345678901234567890", "alice"))

	env := awaitState(t, ws, session.StateAccounts)
	var accounts []types.Account
	require.NoError(t, json.Unmarshal(env.Payload, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Nickname)
}

func TestSwitchPushesNewSessionState(t *testing.T) {
	f := newHubFixture(t)

	s1 := addConnectedSession(t, f, "one", "0xAAAA567890123456789012345678901234567890")
	s2 := addConnectedSession(t, f, "two")
	require.NoError(t, f.registry.Select(s1.ID()))

	ws := f.dial(t)
	require.NoError(t, f.registry.Select(s2.ID()))

	env := awaitState(t, ws, session.StateAccounts)
	var accounts []types.Account
	require.NoError(t, json.Unmarshal(env.Payload, &accounts))
	assert.Empty(t, accounts, "switch must push the newly selected session's state")
}

func TestCompiledContractsBroadcast(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	f.compiled.Set([]types.CompiledContract{{FQN: "A.sol:Foo", Name: "Foo", IsDeployable: true}})

	env := awaitState(t, ws, StateCompiledContracts)
	var contracts []types.CompiledContract
	require.NoError(t, json.Unmarshal(env.Payload, &contracts))
	require.Len(t, contracts, 1)
	assert.Equal(t, "Foo", contracts[0].Name)
}

// awaitSignal reads until a signal with the given name arrives.
func awaitSignal(t *testing.T, ws *websocket.Conn, name string) SignalPayload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, ws)
		if env.Command != CmdSignal {
			continue
		}
		var p SignalPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no %s signal within deadline", name)
	return SignalPayload{}
}

func TestReconnectSignalResetsActiveSession(t *testing.T) {
	f := newHubFixture(t)

	s := addConnectedSession(t, f, "alpha", "0xAAAA567890123456789012345678901234567890")
	require.NoError(t, s.SetLabel(context.Background(), "0xAAAA567890123456789012345678901234567890", "alice"))
	require.NoError(t, f.registry.Select(s.ID()))

	ws := f.dial(t)
	require.NoError(t, ws.WriteJSON(Envelope{
		Command: CmdSignal,
		Payload: mustMarshal(SignalPayload{Name: SignalReconnect}),
	}))

	awaitSignal(t, ws, SignalChainReset)

	accounts := s.Accounts().Get()
	require.Len(t, accounts, 1)
	assert.Empty(t, accounts[0].Nickname, "reconnect resets to a fresh account set")
	assert.True(t, s.Connected())
}

func TestNotifySignal(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	f.hub.Notify(session.NotifyWarn, "state was reset")

	env := readEnvelope(t, ws)
	require.Equal(t, CmdSignal, env.Command)
	var p SignalPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, SignalNotification, p.Name)
	assert.Equal(t, "warning", p.Level)
	assert.Equal(t, "state was reset", p.Message)
}

func TestSignalAndAwait(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	// Echo acks from the client side.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var env Envelope
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		_ = ws.WriteJSON(Envelope{Command: CmdAck, RequestID: env.RequestID})
	}()

	ok := f.hub.SignalAndAwait(context.Background(), SignalPayload{Name: SignalRestart}, 3*time.Second)
	assert.True(t, ok, "ack within the window")
	<-done
}

func TestSignalAndAwaitTimeout(t *testing.T) {
	f := newHubFixture(t)
	_ = f.dial(t) // connected but silent client

	ok := f.hub.SignalAndAwait(context.Background(), SignalPayload{Name: SignalRestart}, 100*time.Millisecond)
	assert.False(t, ok, "no ack means a bounded wait, then false")
}
