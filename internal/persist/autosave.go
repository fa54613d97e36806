package persist

import (
	"context"
	"sync"
	"time"

	"sake/internal/session"
)

// Autosaver turns dirty-state notifications into debounced saves. A burst of
// mutations on one session collapses into a single write after the quiet
// period; different sessions debounce independently.
type Autosaver struct {
	manager  *Manager
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	closed bool
}

// NewAutosaver creates an autosaver writing through manager.
func NewAutosaver(manager *Manager, debounce time.Duration) *Autosaver {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Autosaver{
		manager:  manager,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Hook returns the function to install as a session's dirty hook.
func (a *Autosaver) Hook() func(*session.Session) {
	return a.schedule
}

func (a *Autosaver) schedule(s *session.Session) {
	if !s.AutosaveEnabled() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if t, ok := a.timers[s.ID()]; ok {
		t.Reset(a.debounce)
		return
	}

	a.wg.Add(1)
	a.timers[s.ID()] = time.AfterFunc(a.debounce, func() {
		defer a.wg.Done()
		a.mu.Lock()
		delete(a.timers, s.ID())
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}

		// Re-check: a manual save may have landed during the quiet period.
		if !s.Meta().IsDirty || !s.AutosaveEnabled() {
			return
		}
		if err := a.manager.SaveSession(context.Background(), s); err != nil {
			a.manager.log.Warn("autosave of session %s failed: %v", s.ID(), err)
		}
	})
}

// Flush saves every session with a pending timer immediately and cancels the
// timers. Used on shutdown so the quiet period cannot swallow final edits.
func (a *Autosaver) Flush(ctx context.Context, sessions []*session.Session) {
	a.mu.Lock()
	for id, t := range a.timers {
		if t.Stop() {
			a.wg.Done()
		}
		delete(a.timers, id)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		if !s.Meta().IsDirty || !s.AutosaveEnabled() {
			continue
		}
		if err := a.manager.SaveSession(ctx, s); err != nil {
			a.manager.log.Warn("final save of session %s failed: %v", s.ID(), err)
		}
	}
}

// Stop cancels pending timers and waits for in-flight saves to finish.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	a.closed = true
	for id, t := range a.timers {
		if t.Stop() {
			a.wg.Done()
		}
		delete(a.timers, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
