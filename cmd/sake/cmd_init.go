package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sake/internal/config"
)

// initCmd writes the default workspace config
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default workspace configuration",
	Long:  `Creates .sake/config.yaml with the default settings, ready to edit.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := config.DefaultConfig().Save(workspace); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
