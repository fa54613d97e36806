package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sake/internal/bridge"
	"sake/internal/config"
)

// serveCmd runs the daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sake daemon",
	Long: `Starts the sake daemon: restores persisted sessions, watches the
compiled-contract build output, and serves the UI bridge until interrupted.

On shutdown every session is saved and a restart signal is broadcast to
connected UIs, which get a bounded window to acknowledge before the daemon
exits.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.restore(ctx); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	if app.Watcher != nil {
		if err := app.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("start artifact watcher: %w", err)
		}
	} else if err := app.Artifacts.Reload(); err != nil {
		logger.Warn("artifact load failed", zap.Error(err))
	}

	fmt.Printf("sake daemon listening on %s (workspace %s)\n",
		app.Config.Bridge.ListenAddr, app.Workspace)

	pingDone := make(chan struct{})
	go pingLoop(ctx, app, pingDone)

	runErr := app.Hub.Run(ctx, app.Config.Bridge.ListenAddr)
	<-pingDone

	// The listener is gone but established websocket clients are still
	// attached: announce the restart and give them a bounded window to ack
	// before state is flushed and the connections are dropped.
	ackTimeout := config.ParseDuration(app.Config.Bridge.RestartAckTimeout, 0)
	if ackTimeout > 0 {
		app.Hub.SignalAndAwait(context.Background(),
			bridge.SignalPayload{Name: bridge.SignalRestart}, ackTimeout)
	}

	app.shutdown(context.Background())
	logger.Info("daemon stopped")
	return runErr
}

// pingLoop probes every connected session's backend periodically. A failed
// probe flips the session's connected flag through the usual loss handling,
// which the session list broadcast then carries to the UI.
func pingLoop(ctx context.Context, app *App, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := false
			for _, s := range app.Registry.All() {
				if !s.Connected() {
					continue
				}
				if err := s.Ping(ctx); err != nil && !s.Connected() {
					changed = true
				}
			}
			if changed {
				app.Registry.RefreshList()
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
