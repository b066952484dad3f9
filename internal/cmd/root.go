// Package cmd implements the at CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "at",
	Short: "Atelier multi-agent development supervisor",
	Long: `Atelier supervises coding agents working through a ticket store:
it selects epics, prepares branches and worktrees, runs agent sessions,
and drives changesets through review to integration.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
