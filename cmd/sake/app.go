package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sake/internal/artifacts"
	"sake/internal/bridge"
	"sake/internal/config"
	"sake/internal/network"
	"sake/internal/persist"
	"sake/internal/session"
	"sake/internal/store"
	"sake/internal/types"
)

// App is the wired object graph of the daemon. Construction is explicit and
// top-down: everything a component depends on is passed in, nothing reaches
// for process globals.
type App struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger

	Registry  *session.Registry
	Hub       *bridge.Hub
	Artifacts *artifacts.Registry
	Watcher   *artifacts.Watcher
	Archive   *store.HistoryArchive
	Manager   *persist.Manager
	Autosaver *persist.Autosaver
}

// newApp builds the daemon from the workspace config.
func newApp(ws string, log *zap.Logger) (*App, error) {
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}

	a := &App{
		Workspace: ws,
		Config:    cfg,
		Log:       log,
	}

	a.Manager = persist.NewManager(cfg.StateFilePath(ws))
	a.Autosaver = persist.NewAutosaver(a.Manager,
		config.ParseDuration(cfg.Persistence.AutosaveDebounce, 0))

	if cfg.History.Enabled {
		archive, err := store.NewHistoryArchive(cfg.HistoryDBPath(ws))
		if err != nil {
			return nil, fmt.Errorf("open history archive: %w", err)
		}
		a.Archive = archive
	}

	a.Artifacts = artifacts.NewRegistry(cfg.ArtifactsDir(ws))
	if cfg.Artifacts.Watch {
		watcher, err := artifacts.NewWatcher(a.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("create artifact watcher: %w", err)
		}
		a.Watcher = watcher
	}

	a.Registry = session.NewRegistry(nil)
	a.Hub = bridge.NewHub(log, a.Registry, a.Artifacts.Store())
	a.Registry.SetMirror(a.Hub)

	return a, nil
}

// newSession constructs a session wired into the app: its own backend
// client, the hub as notifier, the archive as ledger, the artifact registry
// for ABI lookups and the autosaver as dirty hook.
func (a *App) newSession(opts session.Options) (*session.Session, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Adapter == nil {
		opts.Adapter = network.NewClient(a.Config.Network.BaseURL, opts.ID,
			config.ParseDuration(a.Config.Network.Timeout, 0))
	}
	opts.Notifier = a.Hub
	opts.Compiled = a.Artifacts
	if a.Archive != nil {
		opts.Archiver = a.Archive
	}

	s, err := session.New(opts)
	if err != nil {
		return nil, err
	}
	s.SetDirtyHook(a.Autosaver.Hook())
	return s, nil
}

// defaultNetwork returns the NetworkConfig for a fresh local-node session.
func (a *App) defaultNetwork() types.NetworkConfig {
	return types.NetworkConfig{
		AccountCount: a.Config.Network.DefaultAccounts,
		ChainID:      a.Config.Network.DefaultChainID,
		HardFork:     a.Config.Network.DefaultHardFork,
	}
}

// restore reloads every persisted session and reselects the recorded active
// one. A session whose backend attach fails is still registered so the user
// can retry; the failure is surfaced as a notification, never a startup
// abort.
func (a *App) restore(ctx context.Context) error {
	records, activeID, warnings, err := a.Manager.LoadAll()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		a.Hub.Notify(session.NotifyWarn, w)
	}

	for i := range records {
		ps := records[i]
		s, err := a.newSession(session.Options{
			ID:              ps.ID,
			DisplayName:     ps.DisplayName,
			Kind:            ps.Kind,
			Network:         ps.Network.Config,
			AutosaveEnabled: ps.Persistence.IsAutosaveEnabled,
		})
		if err != nil {
			a.Log.Warn("skipping persisted session", zap.String("id", ps.ID), zap.Error(err))
			a.Hub.Notify(session.NotifyError,
				fmt.Sprintf("Session %q could not be restored: %v", ps.DisplayName, err))
			continue
		}

		if err := s.ConnectFromSnapshot(ctx, &ps); err != nil {
			a.Log.Warn("restored session is offline", zap.String("id", ps.ID), zap.Error(err))
			a.Hub.Notify(session.NotifyWarn,
				fmt.Sprintf("Chain %q could not be reattached: %v", ps.DisplayName, err))
		}
		if err := a.Registry.Add(s); err != nil {
			a.Log.Warn("duplicate persisted session", zap.String("id", ps.ID), zap.Error(err))
		}
	}

	if activeID != "" {
		if _, ok := a.Registry.Get(activeID); ok {
			if err := a.Registry.Select(activeID); err != nil {
				a.Log.Warn("could not reselect active session", zap.String("id", activeID), zap.Error(err))
			}
		}
	}

	a.Log.Info("restored sessions",
		zap.Int("count", len(records)), zap.String("active", activeID))
	return nil
}

// shutdown persists everything and releases resources, in dependency order:
// no new autosaves, then a final save of all sessions, then the transports.
func (a *App) shutdown(ctx context.Context) {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	a.Autosaver.Stop()

	sessions := a.Registry.All()
	if err := a.Manager.SaveAll(ctx, sessions, a.Registry.ActiveID()); err != nil {
		a.Log.Error("final save failed", zap.Error(err))
	}
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			a.Log.Warn("session close failed", zap.String("id", s.ID()), zap.Error(err))
		}
	}

	a.Hub.Close()
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Log.Warn("archive close failed", zap.Error(err))
		}
	}
}

// shutdownOffline releases resources without touching the state file. The
// offline commands write through the manager explicitly; a blanket SaveAll
// here would clobber what they just wrote.
func (a *App) shutdownOffline() {
	a.Autosaver.Stop()
	a.Hub.Close()
	if a.Archive != nil {
		_ = a.Archive.Close()
	}
}
