package session

import (
	"sync"

	"sake/internal/logging"
	"sake/internal/state"
	"sake/internal/types"
)

// Info is the registry's public view of one session, published through the
// observable session list.
type Info struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName"`
	Kind        types.SessionKind `json:"kind"`
	Connected   bool              `json:"connected"`
	Active      bool              `json:"active"`
}

// Registry tracks all sessions and enforces the single-active-session
// invariant: at most one session is wired to the mirror at any time, and
// zero is a valid state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	activeID string

	mirror Mirror
	list   *state.Store[[]Info]
	log    *logging.Logger
}

// NewRegistry creates a registry mirroring active-session state to m.
// A nil mirror is allowed (headless operation, tests).
func NewRegistry(m Mirror) *Registry {
	if m == nil {
		m = noopMirror{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		mirror:   m,
		list:     state.New([]Info(nil)),
		log:      logging.Get(logging.CategoryRegistry),
	}
}

// ListStore exposes the observable session list, so dependent UI state can
// react to the set of sessions changing.
func (r *Registry) ListStore() *state.Store[[]Info] { return r.list }

// SetMirror replaces the mirror for future activations. The registry and the
// bridge reference each other, so one of them has to be wired after
// construction; this is that seam. Call before any session is selected.
func (r *Registry) SetMirror(m Mirror) {
	if m == nil {
		m = noopMirror{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

// Add registers a session. It becomes visible in the session list but is
// not activated.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID()]; exists {
		r.mu.Unlock()
		return types.NewRegistryError("registry.add", "session %s already registered", s.ID())
	}
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	r.mu.Unlock()

	r.log.Info("registered session %s (%s)", s.ID(), s.DisplayName())
	r.publishList()
	return nil
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Active returns the active session, or nil.
func (r *Registry) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == "" {
		return nil
	}
	return r.sessions[r.activeID]
}

// ActiveID returns the active session id, or "".
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Select makes the session with the given id the active one. No-op if
// already selected. The previously active session is deactivated first, so
// its stale subscriptions can never deliver another message, then the new
// session is activated and its full state pushed.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	if r.activeID == id {
		r.mu.Unlock()
		return nil
	}
	next, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return types.NewRegistryError("registry.select", "unknown session %s", id)
	}
	var prev *Session
	if r.activeID != "" {
		prev = r.sessions[r.activeID]
	}
	r.activeID = id
	r.mu.Unlock()

	if prev != nil {
		prev.Deactivate()
	}
	next.Activate(r.mirror)
	next.PushAll()

	r.log.Info("selected session %s", id)
	r.publishList()
	return nil
}

// Deselect deactivates the active session, leaving none active.
func (r *Registry) Deselect() {
	r.mu.Lock()
	if r.activeID == "" {
		r.mu.Unlock()
		return
	}
	prev := r.sessions[r.activeID]
	r.activeID = ""
	r.mu.Unlock()

	if prev != nil {
		prev.Deactivate()
	}
	r.log.Info("deselected active session")
	r.publishList()
}

// Remove unregisters a session. Removing the active session is disallowed:
// it must be deselected first, so the bridge can never reference a torn-down
// session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if r.activeID == id {
		r.mu.Unlock()
		return types.NewRegistryError("registry.remove", "session %s is active; deselect it first", id)
	}
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return types.NewRegistryError("registry.remove", "unknown session %s", id)
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Info("removed session %s", id)
	r.publishList()
	return nil
}

// List returns the sessions in registration order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// All returns the session objects in registration order.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Registry) snapshotLocked() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		out = append(out, Info{
			ID:          s.ID(),
			DisplayName: s.DisplayName(),
			Kind:        s.Kind(),
			Connected:   s.Connected(),
			Active:      id == r.activeID,
		})
	}
	return out
}

// RefreshList re-publishes the session list. Call after a session changes
// observable metadata (display name, connectivity) outside registry ops.
func (r *Registry) RefreshList() {
	r.publishList()
}

func (r *Registry) publishList() {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.list.Set(snapshot)
}
