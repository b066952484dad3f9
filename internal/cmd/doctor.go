package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/doctor"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check project health: tools, config, git, data dir, stale agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.FindFromCwd()
		if err != nil {
			return err
		}

		ctx := &doctor.Context{ProjectRoot: root}
		if cfg, cerr := config.Load(root); cerr == nil {
			ctx.Config = cfg
		}

		checks := doctor.DefaultChecks()
		checks = append(checks, &doctor.StaleAssigneeCheck{Store: beads.New(root)})

		results, healthy := doctor.RunAll(ctx, checks)
		for _, res := range results {
			switch res.Status {
			case doctor.StatusOK:
				style.PrintSuccess("%-16s %s", res.Name, res.Message)
			case doctor.StatusWarn:
				style.PrintWarning("%-16s %s", res.Name, res.Message)
			default:
				style.PrintError("%-16s %s", res.Name, res.Message)
			}
			for _, d := range res.Details {
				fmt.Printf("                   %s\n", d)
			}
			if res.FixHint != "" && res.Status != doctor.StatusOK {
				style.PrintInfo("                 hint: %s", res.FixHint)
			}
		}

		if !healthy {
			return fmt.Errorf("doctor found problems")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
