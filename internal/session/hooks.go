package session

import "sake/internal/types"

// State ids for the per-session state concerns mirrored to the UI. The
// bridge adds its own ids for shared (non-per-session) state.
const (
	StateAccounts    = "accounts"
	StateDeployments = "deployments"
	StateHistory     = "history"
)

// Mirror receives state updates from whichever session is active. The bridge
// hub implements it; tests substitute a recorder.
type Mirror interface {
	StateChanged(stateID string, value interface{})
}

// NotifyLevel grades user-visible notifications.
type NotifyLevel string

const (
	NotifyInfo  NotifyLevel = "info"
	NotifyWarn  NotifyLevel = "warning"
	NotifyError NotifyLevel = "error"
)

// Notifier surfaces user-visible messages (connection loss, reconnect resets,
// load failures). Implementations must not block.
type Notifier interface {
	Notify(level NotifyLevel, message string)
}

// Archiver records transaction history outside the session's own stores.
// Archive failures are logged, never surfaced: the archive is an index, not
// the source of truth.
type Archiver interface {
	RecordTransaction(sessionID string, seq int, rec types.TransactionRecord) error
}

// CompiledLookup resolves a fully-qualified contract name against the
// workspace-wide compiled contract set.
type CompiledLookup interface {
	LookupFQN(fqn string) (types.CompiledContract, bool)
}

type noopMirror struct{}

func (noopMirror) StateChanged(string, interface{}) {}

type noopNotifier struct{}

func (noopNotifier) Notify(NotifyLevel, string) {}
