package bridge

import (
	"context"
	"encoding/json"

	"github.com/holiman/uint256"

	"sake/internal/network"
	"sake/internal/types"
)

// stubAdapter is the minimal in-memory backend the hub tests need: chain
// creation with a fixed account set and no-op mutations.
type stubAdapter struct {
	accounts []types.Address
}

func (a *stubAdapter) CreateChain(ctx context.Context, cfg types.NetworkConfig) (*network.ChainInfo, error) {
	return &network.ChainInfo{URI: "ws://stub", Accounts: a.accounts}, nil
}

func (a *stubAdapter) ConnectChain(ctx context.Context, uri string) (*network.ChainInfo, error) {
	return &network.ChainInfo{URI: uri, Accounts: a.accounts}, nil
}

func (a *stubAdapter) DisconnectChain(ctx context.Context) error { return nil }

func (a *stubAdapter) GetAccounts(ctx context.Context) ([]types.Address, error) {
	return a.accounts, nil
}

func (a *stubAdapter) GetBalances(ctx context.Context, addrs []types.Address) (map[types.Address]*uint256.Int, error) {
	out := make(map[types.Address]*uint256.Int, len(addrs))
	for _, addr := range addrs {
		out[types.NormalizeAddress(string(addr))] = uint256.NewInt(100)
	}
	return out, nil
}

func (a *stubAdapter) SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error {
	return nil
}

func (a *stubAdapter) SetLabel(ctx context.Context, addr types.Address, label string) error {
	return nil
}

func (a *stubAdapter) Deploy(ctx context.Context, req network.DeployRequest) (*network.DeployResult, error) {
	return &network.DeployResult{Success: true, Address: "0x00000000000000000000000000000000000c0de1"}, nil
}

func (a *stubAdapter) Call(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	return &network.CallResult{Success: true}, nil
}

func (a *stubAdapter) Transact(ctx context.Context, req network.CallRequest) (*network.CallResult, error) {
	return &network.CallResult{Success: true}, nil
}

func (a *stubAdapter) DumpState(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (a *stubAdapter) LoadState(ctx context.Context, dump json.RawMessage) error { return nil }

func (a *stubAdapter) GetABI(ctx context.Context, addr types.Address) (*network.ABIResult, error) {
	return &network.ABIResult{}, nil
}

func (a *stubAdapter) Ping(ctx context.Context) error { return nil }

func (a *stubAdapter) Connected() bool { return true }

var _ network.Adapter = (*stubAdapter)(nil)
