// Package session implements the unit of identity of the sake subsystem: one
// blockchain sandbox instance with its own accounts, deployed contracts and
// transaction history, plus the registry that keeps exactly one of them
// mirrored to the UI.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"sake/internal/logging"
	"sake/internal/network"
	"sake/internal/state"
	"sake/internal/types"
)

// Options configures a new session.
type Options struct {
	// ID is assigned if empty.
	ID          string
	DisplayName string
	Kind        types.SessionKind
	Network     types.NetworkConfig
	Adapter     network.Adapter

	// Optional collaborators.
	Notifier Notifier
	Archiver Archiver
	Compiled CompiledLookup

	AutosaveEnabled bool
}

// Session owns one sandbox chain: a network adapter, one state store per
// concern, and persistence bookkeeping.
//
// Mutating operations are expected to be serialized per session by the
// caller (the natural UI interaction pattern); operations on different
// sessions are independent. Each mutating operation performs exactly one
// adapter call and applies its store updates only on success.
type Session struct {
	id       string
	kind     types.SessionKind
	adapter  network.Adapter
	notifier Notifier
	archiver Archiver
	compiled CompiledLookup
	log      *logging.Logger

	accounts    *state.Store[[]types.Account]
	deployments *state.Store[[]types.DeployedContract]
	history     *state.Store[[]types.TransactionRecord]

	mu          sync.Mutex
	displayName string
	network     types.NetworkConfig
	connected   bool
	meta        types.PersistenceMeta
	active      bool
	unsubs      []func()
	mirror      Mirror
	onDirty     func(*Session)
}

// New constructs a session. The adapter is required; kind must be one of the
// closed variant set.
func New(opts Options) (*Session, error) {
	if opts.Adapter == nil {
		return nil, types.NewValidationError("session.New", "adapter is required")
	}
	if !opts.Kind.Valid() {
		return nil, types.NewValidationError("session.New", "unknown session kind %q", opts.Kind)
	}
	if opts.Kind == types.KindConnection && opts.Network.URI == "" {
		return nil, types.NewValidationError("session.New", "connection session requires a uri")
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := opts.DisplayName
	if name == "" {
		name = "Chain " + id[:8]
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &Session{
		id:          id,
		displayName: name,
		kind:        opts.Kind,
		network:     opts.Network,
		adapter:     opts.Adapter,
		notifier:    notifier,
		archiver:    opts.Archiver,
		compiled:    opts.Compiled,
		log:         logging.Get(logging.CategorySession),
		accounts:    state.New([]types.Account(nil)),
		deployments: state.New([]types.DeployedContract(nil)),
		history:     state.New([]types.TransactionRecord(nil)),
		meta:        types.PersistenceMeta{IsAutosaveEnabled: opts.AutosaveEnabled},
	}, nil
}

// ID returns the session's process-unique identifier.
func (s *Session) ID() string { return s.id }

// Kind returns the session variant.
func (s *Session) Kind() types.SessionKind { return s.kind }

// DisplayName returns the user-facing name.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// NetworkConfig returns a copy of the connection parameters.
func (s *Session) NetworkConfig() types.NetworkConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// Connected reports whether the session believes its backend chain is alive.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Meta returns a copy of the persistence bookkeeping.
func (s *Session) Meta() types.PersistenceMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Accounts exposes the account store (read/subscribe surface for the bridge).
func (s *Session) Accounts() *state.Store[[]types.Account] { return s.accounts }

// Deployments exposes the deployed-contract store.
func (s *Session) Deployments() *state.Store[[]types.DeployedContract] { return s.deployments }

// History exposes the transaction history store.
func (s *Session) History() *state.Store[[]types.TransactionRecord] { return s.history }

// SetDirtyHook installs the autosave trigger. Must be set during wiring,
// before the session handles operations.
func (s *Session) SetDirtyHook(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirty = fn
}

// SetAutosaveEnabled toggles autosave. Turning it off stops future automatic
// saves; it neither saves nor clears dirty state.
func (s *Session) SetAutosaveEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.IsAutosaveEnabled = enabled
}

// AutosaveEnabled reports the autosave flag.
func (s *Session) AutosaveEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.IsAutosaveEnabled
}

// markDirty flags unsaved changes and fires the autosave hook.
func (s *Session) markDirty() {
	s.mu.Lock()
	s.meta.IsDirty = true
	hook := s.onDirty
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// MarkSaved clears the dirty flag and advances the save timestamp. The
// timestamp strictly increases even against a skewed clock.
func (s *Session) MarkSaved(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.meta.LastSaveTimestamp {
		ts = s.meta.LastSaveTimestamp + 1
	}
	s.meta.LastSaveTimestamp = ts
	s.meta.IsDirty = false
}

// handleAdapterError applies the one failure side effect the design allows:
// a backend-reported connection loss flips the connected flag, regardless of
// which operation triggered it.
func (s *Session) handleAdapterError(err error) {
	if !types.IsConnectionLoss(err) {
		return
	}
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected {
		s.log.Warn("session %s lost its chain connection", s.id)
		s.notifier.Notify(NotifyWarn, fmt.Sprintf("Connection to chain %q was lost.", s.DisplayName()))
	}
}

// establish runs the kind-appropriate backend attach call.
func (s *Session) establish(ctx context.Context) (*network.ChainInfo, error) {
	s.mu.Lock()
	cfg := s.network
	s.mu.Unlock()

	switch s.kind {
	case types.KindLocalNode:
		return s.adapter.CreateChain(ctx, cfg)
	case types.KindConnection:
		return s.adapter.ConnectChain(ctx, cfg.URI)
	default:
		return nil, types.NewValidationError("session.connect", "unknown session kind %q", s.kind)
	}
}

// initialAccounts builds the normalized account set for a fresh chain.
// Balance lookup is best-effort: the backend owns chain truth, and a zero
// balance is self-correcting on the next query.
func (s *Session) initialAccounts(ctx context.Context, info *network.ChainInfo) []types.Account {
	addrs := info.Accounts
	balances, err := s.adapter.GetBalances(ctx, addrs)
	if err != nil {
		s.log.Warn("session %s: initial balance query failed: %v", s.id, err)
		balances = nil
	}

	accounts := make([]types.Account, 0, len(addrs))
	for _, a := range addrs {
		addr := types.NormalizeAddress(string(a))
		bal := balances[addr]
		if bal == nil {
			bal = balances[a]
		}
		if bal == nil {
			bal = uint256.NewInt(0)
		}
		accounts = append(accounts, types.Account{Address: addr, Balance: bal})
	}
	return accounts
}

// Connect attaches the session to its backend chain and populates the
// account store. Fails if already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return types.NewValidationError("session.connect", "session %s is already connected", s.id)
	}
	s.mu.Unlock()

	info, err := s.establish(ctx)
	if err != nil {
		s.handleAdapterError(err)
		return err
	}

	accounts := s.initialAccounts(ctx, info)
	s.accounts.Set(accounts)

	s.mu.Lock()
	s.connected = true
	if info.URI != "" {
		s.network.URI = info.URI
	}
	if info.ChainID != 0 {
		s.network.ChainID = info.ChainID
	}
	if info.HardFork != "" {
		s.network.HardFork = info.HardFork
	}
	s.mu.Unlock()

	s.log.Info("session %s connected (%d accounts)", s.id, len(accounts))
	return nil
}

// ConnectFromSnapshot connects the backend chain and then replaces store
// contents with the persisted snapshot instead of re-querying: connecting
// does not imply the state is reset.
func (s *Session) ConnectFromSnapshot(ctx context.Context, ps *types.ProviderState) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return types.NewValidationError("session.connect", "session %s is already connected", s.id)
	}
	s.mu.Unlock()

	info, err := s.establish(ctx)
	if err != nil {
		s.handleAdapterError(err)
		return err
	}

	if len(ps.Network.ChainDump) > 0 {
		if err := s.adapter.LoadState(ctx, ps.Network.ChainDump); err != nil {
			s.handleAdapterError(err)
			return err
		}
	}

	// Replay the recorded stores; normalize addresses defensively since the
	// file may have been edited by hand.
	accounts := make([]types.Account, len(ps.State.Accounts))
	for i, a := range ps.State.Accounts {
		a.Address = types.NormalizeAddress(string(a.Address))
		accounts[i] = a
	}
	deployments := make([]types.DeployedContract, len(ps.State.Deployments))
	for i, d := range ps.State.Deployments {
		d.Address = types.NormalizeAddress(string(d.Address))
		deployments[i] = d
	}

	s.accounts.Set(accounts)
	s.deployments.Set(deployments)
	s.history.Set(append([]types.TransactionRecord(nil), ps.State.History...))

	s.mu.Lock()
	s.connected = true
	if info.URI != "" {
		s.network.URI = info.URI
	}
	s.meta = ps.Persistence
	s.meta.IsDirty = false
	s.mu.Unlock()

	s.log.Info("session %s restored from snapshot (%d accounts, %d deployments, %d history records)",
		s.id, len(accounts), len(deployments), len(ps.State.History))
	return nil
}

// Reconnect re-establishes the backend chain after a detected connection
// loss. The previous sandbox state is unrecoverable by definition: all
// stores reset and a notification tells the user so. Reconnection is never
// state-preserving.
func (s *Session) Reconnect(ctx context.Context) error {
	// Best effort: the old chain is likely gone already.
	_ = s.adapter.DisconnectChain(ctx)

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	info, err := s.establish(ctx)
	if err != nil {
		s.handleAdapterError(err)
		return err
	}

	s.accounts.Set(s.initialAccounts(ctx, info))
	s.deployments.Set(nil)
	s.history.Set(nil)

	s.mu.Lock()
	s.connected = true
	if info.URI != "" {
		s.network.URI = info.URI
	}
	s.mu.Unlock()

	s.notifier.Notify(NotifyWarn, fmt.Sprintf(
		"Chain %q was reconnected. Its previous state could not be recovered and was reset.", s.DisplayName()))
	s.markDirty()
	s.log.Info("session %s reconnected with fresh state", s.id)
	return nil
}

// Ping probes the backend chain. Failures flow through the usual
// connection-loss handling; success never flips a disconnected session back
// on its own, that takes an explicit Reconnect.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.adapter.Ping(ctx); err != nil {
		s.handleAdapterError(err)
		return err
	}
	return nil
}

// Rename changes the display name.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
	s.markDirty()
}

// contractName derives a display name from a fully-qualified name like
// "contracts/A.sol:Foo".
func contractName(fqn string) string {
	if i := strings.LastIndex(fqn, ":"); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}

// Deploy deploys a compiled contract. On success the deployment store gains
// an entry, the history gains a deployment record, and the session is dirty.
// On failure nothing changes.
func (s *Session) Deploy(ctx context.Context, req network.DeployRequest) (*types.TransactionRecord, error) {
	req.Sender = types.NormalizeAddress(string(req.Sender))
	result, err := s.adapter.Deploy(ctx, req)
	if err != nil {
		s.handleAdapterError(err)
		return nil, err
	}

	rec := types.TransactionRecord{
		Kind:        types.TxDeployment,
		Success:     result.Success,
		From:        req.Sender,
		Value:       req.Value,
		CallTrace:   result.CallTrace,
		Receipt:     result.Receipt,
		ContractFQN: req.ContractFQN,
	}

	if result.Success {
		addr := types.NormalizeAddress(string(result.Address))
		name := contractName(req.ContractFQN)
		var abi types.ABI
		if s.compiled != nil {
			if cc, ok := s.compiled.LookupFQN(req.ContractFQN); ok {
				abi = cc.ABI
				if cc.Name != "" {
					name = cc.Name
				}
			}
		}
		rec.ContractAddress = addr
		rec.ContractName = name

		s.deployments.Update(func(ds []types.DeployedContract) []types.DeployedContract {
			return append(ds, types.DeployedContract{
				Address: addr,
				Name:    name,
				FQN:     req.ContractFQN,
				ABI:     abi,
			})
		})
	}

	s.appendHistory(rec)
	s.markDirty()
	return &rec, nil
}

// callOrTransact shares the function-call flow between Call and Transact.
func (s *Session) callOrTransact(ctx context.Context, req network.CallRequest, transact bool) (*types.TransactionRecord, error) {
	req.Sender = types.NormalizeAddress(string(req.Sender))
	req.To = types.NormalizeAddress(string(req.To))

	var (
		result *network.CallResult
		err    error
	)
	if transact {
		result, err = s.adapter.Transact(ctx, req)
	} else {
		result, err = s.adapter.Call(ctx, req)
	}
	if err != nil {
		s.handleAdapterError(err)
		return nil, err
	}

	rec := types.TransactionRecord{
		Kind:         types.TxFunctionCall,
		Success:      result.Success,
		From:         req.Sender,
		To:           req.To,
		FunctionName: req.FunctionName,
		Calldata:     req.Calldata,
		Value:        req.Value,
		CallTrace:    result.CallTrace,
		Receipt:      result.Receipt,
		Return:       result.Return,
	}

	s.appendHistory(rec)
	s.markDirty()
	return &rec, nil
}

// Call performs a read-only function call and records it.
func (s *Session) Call(ctx context.Context, req network.CallRequest) (*types.TransactionRecord, error) {
	return s.callOrTransact(ctx, req, false)
}

// Transact performs a state-changing function call and records it.
func (s *Session) Transact(ctx context.Context, req network.CallRequest) (*types.TransactionRecord, error) {
	return s.callOrTransact(ctx, req, true)
}

// SetBalance sets an account balance on the backend and mirrors it locally.
// An address not yet tracked is added to the store.
func (s *Session) SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error {
	addr = types.NormalizeAddress(string(addr))
	if err := s.adapter.SetBalance(ctx, addr, balance); err != nil {
		s.handleAdapterError(err)
		return err
	}

	s.accounts.Update(func(accounts []types.Account) []types.Account {
		for i := range accounts {
			if accounts[i].Address == addr {
				accounts[i].Balance = balance
				return accounts
			}
		}
		return append(accounts, types.Account{Address: addr, Balance: balance})
	})
	s.markDirty()
	return nil
}

// SetLabel attaches a nickname to an account on the backend and locally.
func (s *Session) SetLabel(ctx context.Context, addr types.Address, label string) error {
	addr = types.NormalizeAddress(string(addr))
	if err := s.adapter.SetLabel(ctx, addr, label); err != nil {
		s.handleAdapterError(err)
		return err
	}

	s.accounts.Update(func(accounts []types.Account) []types.Account {
		for i := range accounts {
			if accounts[i].Address == addr {
				accounts[i].Nickname = label
				return accounts
			}
		}
		return append(accounts, types.Account{Address: addr, Balance: uint256.NewInt(0), Nickname: label})
	})
	s.markDirty()
	return nil
}

// FetchContract pulls the ABI for an on-chain address with no local artifact
// and tracks it as a discovered deployment, including any proxy
// implementation chain the backend detected.
func (s *Session) FetchContract(ctx context.Context, addr types.Address) (*types.DeployedContract, error) {
	addr = types.NormalizeAddress(string(addr))
	result, err := s.adapter.GetABI(ctx, addr)
	if err != nil {
		s.handleAdapterError(err)
		return nil, err
	}

	name := result.Name
	if name == "" {
		name = "Contract " + string(addr[:10])
	}
	contract := types.DeployedContract{
		Address:  addr,
		Name:     name,
		ABI:      result.ABI,
		ProxyFor: result.Implementations,
	}

	s.deployments.Update(func(ds []types.DeployedContract) []types.DeployedContract {
		for i := range ds {
			if ds[i].Address == addr {
				ds[i] = contract
				return ds
			}
		}
		return append(ds, contract)
	})
	s.markDirty()
	return &contract, nil
}

// AddProxyImplementation appends a discovered implementation behind a tracked
// proxy contract.
func (s *Session) AddProxyImplementation(proxy types.Address, impl types.ImplementationContract) error {
	proxy = types.NormalizeAddress(string(proxy))
	impl.Address = types.NormalizeAddress(string(impl.Address))
	if impl.ID == "" {
		impl.ID = uuid.NewString()
	}

	found := false
	s.deployments.Update(func(ds []types.DeployedContract) []types.DeployedContract {
		for i := range ds {
			if ds[i].Address == proxy {
				ds[i].ProxyFor = append(ds[i].ProxyFor, impl)
				found = true
				return ds
			}
		}
		return ds
	})
	if !found {
		return types.NewValidationError("session.addProxyImplementation", "no tracked contract at %s", proxy)
	}
	s.markDirty()
	return nil
}

// RemoveProxyImplementation removes an implementation entry by id.
func (s *Session) RemoveProxyImplementation(proxy types.Address, implID string) error {
	proxy = types.NormalizeAddress(string(proxy))

	found := false
	s.deployments.Update(func(ds []types.DeployedContract) []types.DeployedContract {
		for i := range ds {
			if ds[i].Address != proxy {
				continue
			}
			for j := range ds[i].ProxyFor {
				if ds[i].ProxyFor[j].ID == implID {
					ds[i].ProxyFor = append(ds[i].ProxyFor[:j], ds[i].ProxyFor[j+1:]...)
					found = true
					return ds
				}
			}
		}
		return ds
	})
	if !found {
		return types.NewValidationError("session.removeProxyImplementation", "no implementation %s behind %s", implID, proxy)
	}
	s.markDirty()
	return nil
}

// appendHistory adds a record to the history store and the archive.
func (s *Session) appendHistory(rec types.TransactionRecord) {
	var seq int
	s.history.Update(func(h []types.TransactionRecord) []types.TransactionRecord {
		seq = len(h)
		return append(h, rec)
	})
	if s.archiver != nil {
		if err := s.archiver.RecordTransaction(s.id, seq, rec); err != nil {
			s.log.Warn("session %s: history archive write failed: %v", s.id, err)
		}
	}
}

// DumpState produces the serialized form of the session. The chain dump is
// always pulled fresh from the backend, never replayed from cache.
func (s *Session) DumpState(ctx context.Context) (*types.ProviderState, error) {
	dump, err := s.adapter.DumpState(ctx)
	if err != nil {
		s.handleAdapterError(err)
		return nil, err
	}

	st := types.SessionState{
		Accounts:    s.accounts.Get(),
		Deployments: s.deployments.Get(),
		History:     s.history.Get(),
	}
	fp, err := types.Fingerprint(st)
	if err != nil {
		return nil, types.NewPersistenceError("session.dumpState", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.ProviderState{
		ID:               s.id,
		DisplayName:      s.displayName,
		Kind:             s.kind,
		State:            st,
		Network:          types.NetworkDump{Config: s.network, ChainDump: dump},
		StateFingerprint: fp,
		Persistence:      s.meta,
	}, nil
}

// Activate wires the session's stores to the mirror. Idempotent.
func (s *Session) Activate(m Mirror) {
	if m == nil {
		m = noopMirror{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.mirror = m
	s.unsubs = []func(){
		s.accounts.Subscribe(func(v []types.Account) { m.StateChanged(StateAccounts, v) }),
		s.deployments.Subscribe(func(v []types.DeployedContract) { m.StateChanged(StateDeployments, v) }),
		s.history.Subscribe(func(v []types.TransactionRecord) { m.StateChanged(StateHistory, v) }),
	}
}

// Deactivate unwires the stores from the mirror. Idempotent; after it
// returns, no further updates from this session reach the UI.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.mirror = nil
}

// Active reports whether the session is wired to a mirror.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PushAll pushes the current value of every store to the mirror, so the UI
// reflects a session switch without waiting for the next organic mutation.
func (s *Session) PushAll() {
	s.mu.Lock()
	m := s.mirror
	s.mu.Unlock()
	if m == nil {
		return
	}
	m.StateChanged(StateAccounts, s.accounts.Get())
	m.StateChanged(StateDeployments, s.deployments.Get())
	m.StateChanged(StateHistory, s.history.Get())
}

// Close disconnects the backend chain and unwires the mirror. Used on
// deletion, after the registry has released the session.
func (s *Session) Close(ctx context.Context) error {
	s.Deactivate()
	err := s.adapter.DisconnectChain(ctx)
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}
