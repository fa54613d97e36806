package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sake/internal/types"
)

var historyLimit int

// historyCmd inspects the transaction archive
var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show archived transactions for a session",
	Long: `Reads the transaction archive. The archive is append-only and
outlives session deletion, so this also works for sessions that no longer
exist in the state file.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var historySessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List session ids present in the archive",
	Args:  cobra.NoArgs,
	RunE:  runHistorySessions,
}

func runHistory(cmd *cobra.Command, args []string) error {
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	if app.Archive == nil {
		return fmt.Errorf("the history archive is disabled in the workspace config")
	}

	txs, err := app.Archive.Recent(args[0], historyLimit)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("No archived transactions for this session.")
		return nil
	}

	fmt.Println(strings.Repeat("-", 72))
	for _, tx := range txs {
		status := "ok"
		if !tx.Record.Success {
			status = "REVERTED"
		}
		switch tx.Record.Kind {
		case types.TxDeployment:
			fmt.Printf("%4d  deploy    %-24s %s  [%s]\n",
				tx.Seq, tx.Record.ContractName, tx.Record.ContractAddress, status)
		case types.TxFunctionCall:
			fmt.Printf("%4d  call      %-24s %s  [%s]\n",
				tx.Seq, tx.Record.FunctionName, tx.Record.To, status)
		default:
			fmt.Printf("%4d  %-9s [%s]\n", tx.Seq, tx.Record.Kind, status)
		}
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%d transactions (newest %d)\n", len(txs), historyLimit)
	return nil
}

func runHistorySessions(cmd *cobra.Command, args []string) error {
	app, err := newApp(workspace, logger)
	if err != nil {
		return err
	}
	defer app.shutdownOffline()

	if app.Archive == nil {
		return fmt.Errorf("the history archive is disabled in the workspace config")
	}

	counts, err := app.Archive.Sessions()
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("The archive is empty.")
		return nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%s  %d transactions\n", id, counts[id])
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of transactions to show")
	historyCmd.AddCommand(historySessionsCmd)
	rootCmd.AddCommand(historyCmd)
}
