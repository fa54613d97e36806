// Package network implements the adapter through which a session issues
// chain operations to the out-of-process sandbox backend. The adapter is
// pure request/response: it holds no state beyond connection liveness.
package network

import (
	"context"
	"encoding/json"

	"github.com/holiman/uint256"

	"sake/internal/types"
)

// Backend method names. Every request carries a session identifier so the
// backend can multiplex many sessions over one connection.
const (
	MethodCreateChain     = "create-chain"
	MethodConnectChain    = "connect-chain"
	MethodDisconnectChain = "disconnect-chain"
	MethodGetAccounts     = "get-accounts"
	MethodGetBalances     = "get-balances"
	MethodSetBalance      = "set-balance"
	MethodSetLabel        = "set-label"
	MethodDeploy          = "deploy"
	MethodCall            = "call"
	MethodTransact        = "transact"
	MethodDumpState       = "dump-state"
	MethodLoadState       = "load-state"
	MethodGetABI          = "get-abi"
	MethodPing            = "ping"
)

// ChainInfo is what the backend reports after creating or connecting a chain.
type ChainInfo struct {
	URI      string          `json:"uri"`
	ChainID  uint64          `json:"chainId"`
	HardFork string          `json:"hardFork,omitempty"`
	Accounts []types.Address `json:"accounts"`
}

// DeployRequest deploys a compiled contract.
type DeployRequest struct {
	ContractFQN string        `json:"contractFqn"`
	Sender      types.Address `json:"sender"`
	Calldata    string        `json:"calldata,omitempty"`
	Value       *uint256.Int  `json:"value,omitempty"`
}

// DeployResult is the backend's answer to a deploy. Success false means the
// deployment executed but reverted; transport failures surface as errors, not
// as a result.
type DeployResult struct {
	Success   bool                      `json:"success"`
	Address   types.Address             `json:"address"`
	Receipt   *types.TransactionReceipt `json:"receipt,omitempty"`
	CallTrace json.RawMessage           `json:"callTrace,omitempty"`
}

// CallRequest invokes a contract function, either read-only (Call) or
// state-changing (Transact).
type CallRequest struct {
	To           types.Address `json:"to"`
	Sender       types.Address `json:"sender"`
	FunctionName string        `json:"functionName,omitempty"`
	Calldata     string        `json:"calldata"`
	Value        *uint256.Int  `json:"value,omitempty"`
}

// CallResult is the backend's answer to a call or transact.
type CallResult struct {
	Success   bool                      `json:"success"`
	Return    *types.ReturnValue        `json:"return,omitempty"`
	Receipt   *types.TransactionReceipt `json:"receipt,omitempty"`
	CallTrace json.RawMessage           `json:"callTrace,omitempty"`
}

// ABIResult carries a fetched ABI plus any discovered proxy implementation
// chain behind the queried address.
type ABIResult struct {
	Name            string                         `json:"name,omitempty"`
	ABI             types.ABI                      `json:"abi"`
	Implementations []types.ImplementationContract `json:"implementations,omitempty"`
}

// Adapter is the narrow interface a session uses to reach the backend.
type Adapter interface {
	// CreateChain asks the backend to start a fresh local chain for this
	// session. The returned info carries the assigned URI and the initial
	// account set.
	CreateChain(ctx context.Context, cfg types.NetworkConfig) (*ChainInfo, error)
	// ConnectChain attaches to an already-running chain at uri.
	ConnectChain(ctx context.Context, uri string) (*ChainInfo, error)
	// DisconnectChain releases the backend-side chain for this session.
	DisconnectChain(ctx context.Context) error

	GetAccounts(ctx context.Context) ([]types.Address, error)
	GetBalances(ctx context.Context, addrs []types.Address) (map[types.Address]*uint256.Int, error)
	SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error
	SetLabel(ctx context.Context, addr types.Address, label string) error

	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
	Call(ctx context.Context, req CallRequest) (*CallResult, error)
	Transact(ctx context.Context, req CallRequest) (*CallResult, error)

	// DumpState returns the authoritative raw chain dump at call time.
	DumpState(ctx context.Context) (json.RawMessage, error)
	// LoadState replays a raw chain dump into the backend.
	LoadState(ctx context.Context, dump json.RawMessage) error

	GetABI(ctx context.Context, addr types.Address) (*ABIResult, error)
	Ping(ctx context.Context) error

	// Connected reports backend liveness as last observed by this adapter.
	Connected() bool
}
