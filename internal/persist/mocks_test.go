package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/holiman/uint256"

	"sake/internal/network"
	"sake/internal/types"
)

// fakeAdapter is the in-memory backend the persistence tests run against.
// dumpErr, when set, makes DumpState fail; loadedDumps records replays.
type fakeAdapter struct {
	accounts    []types.Address
	dumpErr     error
	dumpCalls   atomic.Int32
	loadedDumps []json.RawMessage
}

func (a *fakeAdapter) CreateChain(ctx context.Context, cfg types.NetworkConfig) (*network.ChainInfo, error) {
	return &network.ChainInfo{URI: "ws://fake", Accounts: a.accounts}, nil
}

func (a *fakeAdapter) ConnectChain(ctx context.Context, uri string) (*network.ChainInfo, error) {
	return &network.ChainInfo{URI: uri, Accounts: a.accounts}, nil
}

func (a *fakeAdapter) DisconnectChain(ctx context.Context) error { return nil }

func (a *fakeAdapter) GetAccounts(ctx context.Context) ([]types.Address, error) {
	return a.accounts, nil
}

func (a *fakeAdapter) GetBalances(ctx context.Context, addrs []types.Address) (map[types.Address]*uint256.Int, error) {
	out := make(map[types.Address]*uint256.Int, len(addrs))
	for _, addr := range addrs {
		out[types.NormalizeAddress(string(addr))] = uint256.NewInt(1000)
	}
	return out, nil
}

func (a *fakeAdapter) SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error {
	return nil
}

func (a *fakeAdapter) SetLabel(ctx context.Context, addr types.Address, label string) error {
	return nil
}

func (a *fakeAdapter) Deploy(ctx context.Context, req network.DeployRequest) (*network.DeployResult, error) {
	return &network.DeployResult{Success: true, Address: "0x00000000000000000000000000000000000c0de1"}, nil
}

func (a *fakeAdapter) Call(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	return &network.CallResult{Success: true}, nil
}

func (a *fakeAdapter) Transact(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	return &network.CallResult{Success: true}, nil
}

func (a *fakeAdapter) DumpState(ctx context.Context) (json.RawMessage, error) {
	a.dumpCalls.Add(1)
	if a.dumpErr != nil {
		return nil, a.dumpErr
	}
	return json.RawMessage(`{"block":1}`), nil
}

func (a *fakeAdapter) LoadState(ctx context.Context, dump json.RawMessage) error {
	a.loadedDumps = append(a.loadedDumps, dump)
	return nil
}

func (a *fakeAdapter) GetABI(ctx context.Context, addr types.Address) (*network.ABIResult, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) Ping(ctx context.Context) error { return nil }

func (a *fakeAdapter) Connected() bool { return true }

var _ network.Adapter = (*fakeAdapter)(nil)
