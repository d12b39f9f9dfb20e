package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pilllens",
	Short: "PillLens dose timing and adherence service",
	Long: `pilllens tracks scheduled medication doses, marks missed ones and advises
whether a late dose can still be taken.

Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(recoveryCmd)
	rootCmd.AddCommand(importCmd)
}
