package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sake/internal/types"
)

// fakeBackend answers the JSON method protocol with canned handlers.
type fakeBackend struct {
	t        *testing.T
	handlers map[string]func(req request) response
	requests []request
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	fb := &fakeBackend{t: t, handlers: map[string]func(request) response{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("backend received malformed request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fb.requests = append(fb.requests, req)
		h, ok := fb.handlers[req.Method]
		if !ok {
			t.Errorf("no handler for method %q", req.Method)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(h(req))
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func okResult(v interface{}) response {
	raw, _ := json.Marshal(v)
	return response{Success: true, Result: raw}
}

func TestCreateChain(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handlers[MethodCreateChain] = func(req request) response {
		return okResult(ChainInfo{
			URI:      "ws://127.0.0.1:9001",
			ChainID:  31337,
			Accounts: []types.Address{"0xAAAA567890123456789012345678901234567890"},
		})
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	require.False(t, c.Connected())

	info, err := c.CreateChain(context.Background(), types.NetworkConfig{AccountCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9001", info.URI)
	assert.True(t, c.Connected())

	// The session id rides on the request.
	require.Len(t, fb.requests, 1)
	assert.Equal(t, "sess-1", fb.requests[0].SessionID)
	assert.Equal(t, MethodCreateChain, fb.requests[0].Method)
}

func TestBackendErrorIsAdapterError(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handlers[MethodDeploy] = func(req request) response {
		return response{Success: false, Error: "execution reverted"}
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	_, err := c.Deploy(context.Background(), DeployRequest{ContractFQN: "A.sol:Foo"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAdapter))
	assert.False(t, types.IsConnectionLoss(err))
}

func TestConnectionLossFlipsConnected(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handlers[MethodCreateChain] = func(req request) response {
		return okResult(ChainInfo{URI: "ws://x", Accounts: nil})
	}
	fb.handlers[MethodCall] = func(req request) response {
		return response{Success: false, Error: "Chain instance not connected"}
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	_, err := c.CreateChain(context.Background(), types.NetworkConfig{})
	require.NoError(t, err)
	require.True(t, c.Connected())

	_, err = c.Call(context.Background(), CallRequest{To: "0x1111111111111111111111111111111111111111"})
	require.Error(t, err)
	assert.True(t, types.IsConnectionLoss(err))
	assert.False(t, c.Connected(), "connection loss must flip liveness")
}

func TestMissingResultIsValidationError(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handlers[MethodGetAccounts] = func(req request) response {
		return response{Success: true} // no result
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	_, err := c.GetAccounts(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestUnreachableBackend(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "sess-1", 500*time.Millisecond)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAdapter))
}

func TestGetBalances(t *testing.T) {
	fb, srv := newFakeBackend(t)
	addr := types.Address("0xabcdef0123456789abcdef0123456789abcdef01")
	fb.handlers[MethodGetBalances] = func(req request) response {
		return okResult(map[types.Address]*uint256.Int{addr: uint256.NewInt(1000)})
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	balances, err := c.GetBalances(context.Background(), []types.Address{addr})
	require.NoError(t, err)
	require.Contains(t, balances, addr)
	assert.Equal(t, uint256.NewInt(1000), balances[addr])
}

func TestDumpState(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handlers[MethodDumpState] = func(req request) response {
		return okResult(map[string]string{"chain": "dump"})
	}

	c := NewClient(srv.URL, "sess-1", 5*time.Second)
	dump, err := c.DumpState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"chain":"dump"}`, string(dump))
}
