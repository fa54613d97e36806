package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a sake error. Kinds are stable: callers dispatch on
// the kind, never on message text.
type ErrorKind int

const (
	// KindAdapter means a backend call failed.
	KindAdapter ErrorKind = iota
	// KindValidation means a request or response was structurally invalid.
	KindValidation
	// KindRegistry means a registry invariant was violated.
	KindRegistry
	// KindPersistence means a serialize/deserialize/IO failure.
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindAdapter:
		return "adapter"
	case KindValidation:
		return "validation"
	case KindRegistry:
		return "registry"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// SakeError wraps every failure crossing a component boundary with a stable
// kind and the operation that produced it.
type SakeError struct {
	Kind ErrorKind
	Op   string
	Err  error

	// ConnectionLoss marks the adapter subtype that also flips a session's
	// connected flag as a side effect of the failing call.
	ConnectionLoss bool
}

func (e *SakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SakeError) Unwrap() error { return e.Err }

// connectionLossMessages are the backend error messages that indicate the
// chain process behind the session is gone. Matching is substring-based
// because the backend wraps them differently per transport.
var connectionLossMessages = []string{
	"Chain instance not connected",
	"Connection to remote host was lost.",
}

func isConnectionLossMessage(msg string) bool {
	for _, m := range connectionLossMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// NewAdapterError wraps a backend failure, classifying connection loss from
// the backend's message text.
func NewAdapterError(op string, err error) error {
	return &SakeError{
		Kind:           KindAdapter,
		Op:             op,
		Err:            err,
		ConnectionLoss: err != nil && isConnectionLossMessage(err.Error()),
	}
}

// NewValidationError wraps a structural failure.
func NewValidationError(op string, format string, args ...interface{}) error {
	return &SakeError{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// NewRegistryError wraps a registry invariant violation.
func NewRegistryError(op string, format string, args ...interface{}) error {
	return &SakeError{Kind: KindRegistry, Op: op, Err: fmt.Errorf(format, args...)}
}

// NewPersistenceError wraps a persistence failure.
func NewPersistenceError(op string, err error) error {
	return &SakeError{Kind: KindPersistence, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a SakeError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var se *SakeError
	return errors.As(err, &se) && se.Kind == k
}

// IsConnectionLoss reports whether err carries the connection-loss marker.
func IsConnectionLoss(err error) bool {
	var se *SakeError
	return errors.As(err, &se) && se.ConnectionLoss
}
