package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"sake/internal/network"
	"sake/internal/types"
)

// fakeAdapter is an in-memory backend standing in for the out-of-process
// chain server.
type fakeAdapter struct {
	mu        sync.Mutex
	connected bool

	// accounts handed out on chain creation.
	accounts []types.Address
	balances map[types.Address]*uint256.Int
	labels   map[types.Address]string

	// failWith forces an error for a given method name.
	failWith map[string]error

	deployAddr  types.Address
	execSuccess bool

	dump        json.RawMessage
	loadedDumps []json.RawMessage
	createCalls int
	abiResult   *network.ABIResult
}

func newFakeAdapter(accounts ...string) *fakeAdapter {
	fa := &fakeAdapter{
		balances:    make(map[types.Address]*uint256.Int),
		labels:      make(map[types.Address]string),
		failWith:    make(map[string]error),
		deployAddr:  "0x00000000000000000000000000000000000c0de1",
		execSuccess: true,
		dump:        json.RawMessage(`{"chain":"dump"}`),
	}
	for _, a := range accounts {
		fa.accounts = append(fa.accounts, types.Address(a))
		fa.balances[types.NormalizeAddress(a)] = uint256.NewInt(1000)
	}
	return fa
}

// failConnectionLoss makes method fail with a backend connection-loss message.
func (f *fakeAdapter) failConnectionLoss(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith[method] = types.NewAdapterError(method, fmt.Errorf("Chain instance not connected"))
}

func (f *fakeAdapter) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith[method] = types.NewAdapterError(method, err)
}

func (f *fakeAdapter) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith[method]
}

func (f *fakeAdapter) CreateChain(ctx context.Context, cfg types.NetworkConfig) (*network.ChainInfo, error) {
	if err := f.check(network.MethodCreateChain); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.createCalls++
	return &network.ChainInfo{
		URI:      fmt.Sprintf("ws://127.0.0.1:9%03d", f.createCalls),
		ChainID:  31337,
		Accounts: append([]types.Address(nil), f.accounts...),
	}, nil
}

func (f *fakeAdapter) ConnectChain(ctx context.Context, uri string) (*network.ChainInfo, error) {
	if err := f.check(network.MethodConnectChain); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return &network.ChainInfo{URI: uri, Accounts: append([]types.Address(nil), f.accounts...)}, nil
}

func (f *fakeAdapter) DisconnectChain(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeAdapter) GetAccounts(ctx context.Context) ([]types.Address, error) {
	if err := f.check(network.MethodGetAccounts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Address(nil), f.accounts...), nil
}

func (f *fakeAdapter) GetBalances(ctx context.Context, addrs []types.Address) (map[types.Address]*uint256.Int, error) {
	if err := f.check(network.MethodGetBalances); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.Address]*uint256.Int, len(addrs))
	for _, a := range addrs {
		norm := types.NormalizeAddress(string(a))
		if b, ok := f.balances[norm]; ok {
			out[norm] = b
		}
	}
	return out, nil
}

func (f *fakeAdapter) SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error {
	if err := f.check(network.MethodSetBalance); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[types.NormalizeAddress(string(addr))] = balance
	return nil
}

func (f *fakeAdapter) SetLabel(ctx context.Context, addr types.Address, label string) error {
	if err := f.check(network.MethodSetLabel); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[types.NormalizeAddress(string(addr))] = label
	return nil
}

func (f *fakeAdapter) Deploy(ctx context.Context, req network.DeployRequest) (*network.DeployResult, error) {
	if err := f.check(network.MethodDeploy); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &network.DeployResult{
		Success: f.execSuccess,
		Address: f.deployAddr,
		Receipt: &types.TransactionReceipt{TransactionHash: "0xhash", Status: "0x1"},
	}, nil
}

func (f *fakeAdapter) Call(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	if err := f.check(network.MethodCall); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &network.CallResult{
		Success: f.execSuccess,
		Return:  &types.ReturnValue{Raw: "0x01"},
	}, nil
}

func (f *fakeAdapter) Transact(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	if err := f.check(network.MethodTransact); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &network.CallResult{
		Success: f.execSuccess,
		Return:  &types.ReturnValue{Raw: "0x01"},
		Receipt: &types.TransactionReceipt{TransactionHash: "0xhash2", Status: "0x1"},
	}, nil
}

func (f *fakeAdapter) DumpState(ctx context.Context) (json.RawMessage, error) {
	if err := f.check(network.MethodDumpState); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dump, nil
}

func (f *fakeAdapter) LoadState(ctx context.Context, dump json.RawMessage) error {
	if err := f.check(network.MethodLoadState); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadedDumps = append(f.loadedDumps, dump)
	return nil
}

func (f *fakeAdapter) GetABI(ctx context.Context, addr types.Address) (*network.ABIResult, error) {
	if err := f.check(network.MethodGetABI); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.abiResult != nil {
		return f.abiResult, nil
	}
	return &network.ABIResult{Name: "Discovered", ABI: types.ABI{{Type: "function", Name: "ping"}}}, nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error {
	return f.check(network.MethodPing)
}

func (f *fakeAdapter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

var _ network.Adapter = (*fakeAdapter)(nil)

// recordingMirror captures every state push in order.
type recordingMirror struct {
	mu     sync.Mutex
	pushes []mirrorPush
}

type mirrorPush struct {
	stateID string
	value   interface{}
}

func (m *recordingMirror) StateChanged(stateID string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, mirrorPush{stateID: stateID, value: value})
}

func (m *recordingMirror) all() []mirrorPush {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorPush(nil), m.pushes...)
}

func (m *recordingMirror) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = nil
}

// recordingNotifier captures user-visible notifications.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level NotifyLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, fmt.Sprintf("[%s] %s", level, message))
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// recordingArchiver captures archive writes.
type recordingArchiver struct {
	mu      sync.Mutex
	records []types.TransactionRecord
}

func (a *recordingArchiver) RecordTransaction(sessionID string, seq int, rec types.TransactionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// staticCompiled serves a fixed compiled-contract set.
type staticCompiled map[string]types.CompiledContract

func (c staticCompiled) LookupFQN(fqn string) (types.CompiledContract, bool) {
	cc, ok := c[fqn]
	return cc, ok
}
