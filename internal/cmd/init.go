package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an atelier project in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		if existing := workspace.FindRoot(cwd); existing != "" {
			return fmt.Errorf("already inside an atelier project at %s", existing)
		}

		if err := config.Save(cwd, config.Default()); err != nil {
			return err
		}
		for _, dir := range []string{
			workspace.WorktreesDir(cwd),
			workspace.AgentsDir(cwd),
		} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}

		style.PrintSuccess("initialized atelier project at %s", cwd)
		style.PrintInfo("edit %s to set repo_slug and branch_pr", config.Path(cwd))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
