// Package persist owns the on-disk representation of the session set: a
// single versioned JSON file written atomically, plus the autosave scheduling
// that keeps it current.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sake/internal/logging"
	"sake/internal/session"
	"sake/internal/types"
)

// FileVersion is the current schema version of the state file. Loaders accept
// older files field-by-field; writers always stamp the current version.
const FileVersion = 1

// SharedState holds the file-level fields that do not belong to any single
// session.
type SharedState struct {
	ActiveSessionID string `json:"activeSessionId,omitempty"`
}

// FileState is the root of the persisted document.
type FileState struct {
	Version  int                   `json:"version"`
	Sessions []types.ProviderState `json:"sessions"`
	Shared   SharedState           `json:"shared"`
}

// Manager reads and writes the state file. Saves are serialized: concurrent
// autosave triggers and explicit saves queue behind one another rather than
// interleaving partial documents.
type Manager struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
}

// NewManager creates a manager for the state file at path.
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
		log:  logging.Get(logging.CategoryPersistence),
	}
}

// Path returns the state file location.
func (m *Manager) Path() string { return m.path }

// Load reads the state file. A missing file is an empty document, not an
// error; an unreadable or malformed file is a persistence error.
func (m *Manager) Load() (*FileState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (*FileState, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &FileState{Version: FileVersion}, nil
	}
	if err != nil {
		return nil, types.NewPersistenceError("persist.load", err)
	}

	var fs FileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, types.NewPersistenceError("persist.load", fmt.Errorf("%s: %w", m.path, err))
	}
	if fs.Version > FileVersion {
		return nil, types.NewPersistenceError("persist.load",
			fmt.Errorf("%s: file version %d is newer than supported %d", m.path, fs.Version, FileVersion))
	}
	return &fs, nil
}

// LoadAll returns the persisted session records plus the recorded active
// session id. Records whose recomputed fingerprint no longer matches the
// stored one are returned anyway with a warning: the snapshot is still the
// best available state, and the mismatch only signals out-of-band edits.
func (m *Manager) LoadAll() ([]types.ProviderState, string, []string, error) {
	fs, err := m.Load()
	if err != nil {
		return nil, "", nil, err
	}

	var warnings []string
	for i := range fs.Sessions {
		ps := &fs.Sessions[i]
		if err := ps.Validate(); err != nil {
			return nil, "", nil, types.NewPersistenceError("persist.load",
				fmt.Errorf("session %s: %w", ps.ID, err))
		}
		if ps.StateFingerprint == "" {
			continue
		}
		fp, err := types.Fingerprint(ps.State)
		if err != nil {
			return nil, "", nil, types.NewPersistenceError("persist.load", err)
		}
		if fp != ps.StateFingerprint {
			w := fmt.Sprintf("session %s (%s): state fingerprint mismatch, file was modified outside the tool",
				ps.ID, ps.DisplayName)
			m.log.Warn("%s", w)
			warnings = append(warnings, w)
		}
	}
	return fs.Sessions, fs.Shared.ActiveSessionID, warnings, nil
}

// SaveSession dumps one session and upserts its record in the state file,
// then clears the session's dirty flag. The chain dump comes fresh from the
// backend as part of DumpState.
func (m *Manager) SaveSession(ctx context.Context, s *session.Session) error {
	ps, err := s.DumpState(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fs, err := m.loadLocked()
	if err != nil {
		return err
	}
	upsert(fs, *ps)
	if err := m.writeLocked(fs); err != nil {
		return err
	}

	s.MarkSaved(time.Now().UnixMilli())
	m.log.Info("saved session %s to %s", s.ID(), m.path)
	return nil
}

// SaveAll dumps every given session and rewrites the file in one pass,
// recording activeID as the session to reselect on the next load. Sessions
// whose dump fails are skipped with a warning so one dead chain cannot block
// persisting the rest.
func (m *Manager) SaveAll(ctx context.Context, sessions []*session.Session, activeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, err := m.loadLocked()
	if err != nil {
		return err
	}
	fs.Shared.ActiveSessionID = activeID

	saved := make([]*session.Session, 0, len(sessions))
	for _, s := range sessions {
		ps, err := s.DumpState(ctx)
		if err != nil {
			m.log.Warn("skipping session %s: dump failed: %v", s.ID(), err)
			continue
		}
		upsert(fs, *ps)
		saved = append(saved, s)
	}

	if err := m.writeLocked(fs); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, s := range saved {
		s.MarkSaved(now)
	}
	m.log.Info("saved %d of %d sessions to %s", len(saved), len(sessions), m.path)
	return nil
}

// RemoveSession drops a session's record from the file. Unknown ids are a
// no-op: the file already agrees with the caller.
func (m *Manager) RemoveSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, err := m.loadLocked()
	if err != nil {
		return err
	}
	kept := fs.Sessions[:0]
	for _, ps := range fs.Sessions {
		if ps.ID != id {
			kept = append(kept, ps)
		}
	}
	fs.Sessions = kept
	if fs.Shared.ActiveSessionID == id {
		fs.Shared.ActiveSessionID = ""
	}
	return m.writeLocked(fs)
}

// SetActive records which session should be reselected on the next load.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, err := m.loadLocked()
	if err != nil {
		return err
	}
	fs.Shared.ActiveSessionID = id
	return m.writeLocked(fs)
}

func upsert(fs *FileState, ps types.ProviderState) {
	for i := range fs.Sessions {
		if fs.Sessions[i].ID == ps.ID {
			fs.Sessions[i] = ps
			return
		}
	}
	fs.Sessions = append(fs.Sessions, ps)
}

// writeLocked serializes fs and replaces the state file via a temp file plus
// rename, so a crash mid-write can never leave a truncated document behind.
func (m *Manager) writeLocked(fs *FileState) error {
	fs.Version = FileVersion

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return types.NewPersistenceError("persist.save", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewPersistenceError("persist.save", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return types.NewPersistenceError("persist.save", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewPersistenceError("persist.save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewPersistenceError("persist.save", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return types.NewPersistenceError("persist.save", err)
	}
	return nil
}
