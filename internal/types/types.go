// Package types provides shared type definitions used across sake packages.
// This package exists to break import cycles between session, network, bridge,
// and persist. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/holiman/uint256"
)

// SessionKind distinguishes the two ways a sandbox session can come to exist.
// The variant set is closed: a session either owns a freshly created local
// chain or attaches to an already-running backend instance.
type SessionKind string

const (
	KindLocalNode  SessionKind = "local_node"
	KindConnection SessionKind = "connection"
)

// Valid reports whether k is one of the known kinds.
func (k SessionKind) Valid() bool {
	return k == KindLocalNode || k == KindConnection
}

// Address is a normalized, lowercase, 0x-prefixed hex account address.
// Construct through NormalizeAddress so membership tests stay exact-match safe.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases and trims an address string. Address equality
// in every store is defined over this normal form.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether the address is a well-formed normalized address.
func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

func (a Address) String() string { return string(a) }

// Account is one chain account tracked by a session.
type Account struct {
	Address  Address      `json:"address"`
	Balance  *uint256.Int `json:"balance"`
	Nickname string       `json:"nickname,omitempty"`
}

// ABIParam describes one input or output of an ABI entry.
type ABIParam struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Components []ABIParam `json:"components,omitempty"`
}

// ABIEntry is one function/event/constructor record of a contract ABI.
type ABIEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
	Inputs          []ABIParam `json:"inputs,omitempty"`
	Outputs         []ABIParam `json:"outputs,omitempty"`
}

// ABI is a parsed contract ABI.
type ABI []ABIEntry

// CompiledContract is a workspace-wide compilation artifact. The compiled set
// is shared across all sessions: compilation is a backend-wide concept.
type CompiledContract struct {
	FQN          string `json:"fqn"`
	Name         string `json:"name"`
	ABI          ABI    `json:"abi"`
	IsDeployable bool   `json:"isDeployable"`
}

// ImplementationContract is one discovered implementation behind a proxy.
type ImplementationContract struct {
	ID      string  `json:"id"`
	Address Address `json:"address"`
	Name    string  `json:"name,omitempty"`
	ABI     ABI     `json:"abi,omitempty"`
}

// DeployedContract is a contract visible to a session, either deployed from a
// local artifact (FQN set) or discovered on-chain (FQN empty). ProxyFor is
// append-only except for explicit removal by implementation id.
type DeployedContract struct {
	Address  Address                  `json:"address"`
	Name     string                   `json:"name"`
	FQN      string                   `json:"fqn,omitempty"`
	ABI      ABI                      `json:"abi"`
	Balance  *uint256.Int             `json:"balance,omitempty"`
	ProxyFor []ImplementationContract `json:"proxyFor,omitempty"`
}

// NetworkConfig carries the backend connection parameters for one session.
// Immutable after session creation except fields the backend fills in
// post-creation (the assigned URI in particular).
type NetworkConfig struct {
	AccountCount int    `json:"accountCount,omitempty"`
	ChainID      uint64 `json:"chainId,omitempty"`
	Fork         string `json:"fork,omitempty"`
	HardFork     string `json:"hardFork,omitempty"`
	URI          string `json:"uri,omitempty"`
}

// NetworkDump combines the connection parameters with the backend's raw chain
// dump, which is opaque to the orchestration layer.
type NetworkDump struct {
	Config    NetworkConfig   `json:"config"`
	ChainDump json.RawMessage `json:"chainDump,omitempty"`
}

// PersistenceMeta is the dirty/autosave bookkeeping for one session.
// IsDirty is set whenever a state-mutating operation succeeds and cleared
// only by a successful save.
type PersistenceMeta struct {
	IsDirty           bool  `json:"isDirty"`
	IsAutosaveEnabled bool  `json:"isAutosaveEnabled"`
	LastSaveTimestamp int64 `json:"lastSaveTimestamp,omitempty"` // unix milliseconds
}

// SessionState is the serializable subset of a session's state stores.
type SessionState struct {
	Accounts    []Account           `json:"accounts"`
	Deployments []DeployedContract  `json:"deployments"`
	History     []TransactionRecord `json:"history"`
}

// ProviderState is the serialized form of one session, as written to the
// workspace state file.
type ProviderState struct {
	ID               string          `json:"id"`
	DisplayName      string          `json:"displayName"`
	Kind             SessionKind     `json:"kind"`
	State            SessionState    `json:"state"`
	Network          NetworkDump     `json:"network"`
	StateFingerprint string          `json:"stateFingerprint"`
	Persistence      PersistenceMeta `json:"persistence"`
}

// Validate performs the structural checks applied when a persisted record is
// fed back into session reconstruction. Missing optional fields are fine;
// a record without an id or with an unknown kind is not.
func (p *ProviderState) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider state missing id")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("provider state %s: unknown kind %q", p.ID, p.Kind)
	}
	return nil
}
