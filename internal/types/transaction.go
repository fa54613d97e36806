package types

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// TxKind discriminates the two transaction record variants.
type TxKind string

const (
	TxDeployment   TxKind = "deployment"
	TxFunctionCall TxKind = "function_call"
)

// TransactionReceipt mirrors the backend's receipt for a processed
// transaction. Fields the backend did not report stay zero.
type TransactionReceipt struct {
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	GasUsed         uint64 `json:"gasUsed,omitempty"`
	Status          string `json:"status,omitempty"`
}

// ReturnValue carries both the raw and the backend-decoded return data of a
// call or transaction.
type ReturnValue struct {
	Raw     string          `json:"raw,omitempty"`
	Decoded json.RawMessage `json:"decoded,omitempty"`
}

// TransactionRecord is one entry in a session's history. Records are
// append-only and never mutated after insertion.
//
// The record is a tagged union over deployments and function calls,
// discriminated by Kind: a deployment carries ContractAddress/ContractName/
// ContractFQN, a function call carries To/FunctionName. Shared fields
// (Success, CallTrace, Receipt, ReturnValue) apply to both.
type TransactionRecord struct {
	Kind    TxKind  `json:"kind"`
	Success bool    `json:"success"`
	From    Address `json:"from"`

	Value     *uint256.Int        `json:"value,omitempty"`
	CallTrace json.RawMessage     `json:"callTrace,omitempty"`
	Receipt   *TransactionReceipt `json:"receipt,omitempty"`
	Return    *ReturnValue        `json:"return,omitempty"`

	// Deployment variant.
	ContractAddress Address `json:"contractAddress,omitempty"`
	ContractName    string  `json:"contractName,omitempty"`
	ContractFQN     string  `json:"contractFqn,omitempty"`

	// Function call variant.
	To           Address `json:"to,omitempty"`
	FunctionName string  `json:"functionName,omitempty"`
	Calldata     string  `json:"calldata,omitempty"`
}

// Validate checks the union invariants for the record's kind.
func (r *TransactionRecord) Validate() error {
	switch r.Kind {
	case TxDeployment:
		if r.Success && r.ContractAddress == "" {
			return fmt.Errorf("deployment record missing contract address")
		}
	case TxFunctionCall:
		if r.To == "" {
			return fmt.Errorf("function call record missing target address")
		}
	default:
		return fmt.Errorf("unknown transaction record kind %q", r.Kind)
	}
	return nil
}
