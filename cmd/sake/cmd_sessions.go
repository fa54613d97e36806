// Package main session management commands. These operate on the persisted
// state file directly and are meant for use while the daemon is not running;
// a running daemon is the authority over its own session set.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sake/internal/session"
	"sake/internal/types"
)

var (
	newName     string
	newURI      string
	newAccounts int
	newChainID  uint64
	newHardFork string
	newActivate bool

	deletePurgeHistory bool
)

// sessionsCmd manages sandbox sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sandbox sessions",
	Long: `List and manage the persisted sandbox sessions.

Subcommands:
  list    - List all persisted sessions
  new     - Create a session (local node, or connection with --uri)
  delete  - Remove a session from the state file
  select  - Mark a session active for the next daemon start`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all persisted sessions",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new session and persist it",
	Long: `Creates a session against the configured backend and writes it to
the state file. Without --uri a fresh local node chain is created; with --uri
the session attaches to an already-running chain.`,
	RunE: runSessionsNew,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Remove a session from the state file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsSelectCmd = &cobra.Command{
	Use:   "select <session-id>",
	Short: "Mark a session active for the next daemon start",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSelect,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	records, activeID, warnings, err := app.Manager.LoadAll()
	if err != nil {
		return fmt.Errorf("load state file: %w", err)
	}
	for _, w := range warnings {
		fmt.Println("Warning:", w)
	}

	if len(records) == 0 {
		fmt.Println("No persisted sessions found.")
		return nil
	}

	fmt.Println("Persisted Sessions")
	fmt.Println(strings.Repeat("-", 72))
	for _, ps := range records {
		marker := " "
		if ps.ID == activeID {
			marker = "*"
		}
		saved := "never"
		if ps.Persistence.LastSaveTimestamp > 0 {
			saved = time.UnixMilli(ps.Persistence.LastSaveTimestamp).Format(time.RFC3339)
		}
		fmt.Printf("%s %s  %-20s %-12s saved %s\n",
			marker, ps.ID, ps.DisplayName, ps.Kind, saved)
		fmt.Printf("    accounts: %d  deployments: %d  history: %d\n",
			len(ps.State.Accounts), len(ps.State.Deployments), len(ps.State.History))
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("Total: %d sessions\n", len(records))
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	opts := session.Options{
		DisplayName:     newName,
		Kind:            types.KindLocalNode,
		Network:         app.defaultNetwork(),
		AutosaveEnabled: app.Config.Persistence.AutosaveEnabled,
	}
	if newURI != "" {
		opts.Kind = types.KindConnection
		opts.Network = types.NetworkConfig{URI: newURI}
	}
	if newAccounts > 0 {
		opts.Network.AccountCount = newAccounts
	}
	if newChainID != 0 {
		opts.Network.ChainID = newChainID
	}
	if newHardFork != "" {
		opts.Network.HardFork = newHardFork
	}

	s, err := app.newSession(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("connect to backend: %w", err)
	}
	defer s.Close(context.Background())

	if err := app.Manager.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if newActivate {
		if err := app.Manager.SetActive(s.ID()); err != nil {
			return fmt.Errorf("mark active: %w", err)
		}
	}

	fmt.Printf("Created session %s (%s, %d accounts)\n",
		s.ID(), s.DisplayName(), len(s.Accounts().Get()))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	records, _, _, err := app.Manager.LoadAll()
	if err != nil {
		return err
	}
	found := false
	for _, ps := range records {
		if ps.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("session %q not found; use 'sake sessions list'", id)
	}

	if err := app.Manager.RemoveSession(id); err != nil {
		return err
	}
	fmt.Printf("Removed session %s from the state file.\n", id)

	if deletePurgeHistory && app.Archive != nil {
		n, err := app.Archive.Purge(id)
		if err != nil {
			return fmt.Errorf("purge archive: %w", err)
		}
		fmt.Printf("Purged %d archived transactions.\n", n)
	}
	return nil
}

func runSessionsSelect(cmd *cobra.Command, args []string) error {
	id := args[0]
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	records, _, _, err := app.Manager.LoadAll()
	if err != nil {
		return err
	}
	for _, ps := range records {
		if ps.ID == id {
			if err := app.Manager.SetActive(id); err != nil {
				return err
			}
			fmt.Printf("Session %s (%s) will be active on the next daemon start.\n", id, ps.DisplayName)
			return nil
		}
	}
	return fmt.Errorf("session %q not found; use 'sake sessions list'", id)
}

func init() {
	sessionsNewCmd.Flags().StringVar(&newName, "name", "", "display name (default: derived from the session id)")
	sessionsNewCmd.Flags().StringVar(&newURI, "uri", "", "attach to a running chain at this uri instead of creating one")
	sessionsNewCmd.Flags().IntVar(&newAccounts, "accounts", 0, "number of prefunded accounts (local node)")
	sessionsNewCmd.Flags().Uint64Var(&newChainID, "chain-id", 0, "chain id (local node)")
	sessionsNewCmd.Flags().StringVar(&newHardFork, "hard-fork", "", "hard fork to emulate (local node)")
	sessionsNewCmd.Flags().BoolVar(&newActivate, "activate", false, "mark the new session active")
	sessionsDeleteCmd.Flags().BoolVar(&deletePurgeHistory, "purge-history", false, "also delete the session's archived transactions")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsDeleteCmd, sessionsSelectCmd)
	rootCmd.AddCommand(sessionsCmd)
}
