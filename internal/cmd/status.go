package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show epics and their changeset progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.FindFromCwd()
		if err != nil {
			return err
		}

		bd := beads.New(root)
		statusFilter := "open"
		if statusAll {
			statusFilter = "all"
		}
		epics, err := bd.ListEpics(statusFilter)
		if err != nil {
			return err
		}
		if len(epics) == 0 {
			style.PrintInfo("no epics")
			return nil
		}

		table := style.NewTable(
			style.Column{Name: "EPIC", Width: 14},
			style.Column{Name: "STATUS", Width: 12},
			style.Column{Name: "ASSIGNEE", Width: 30},
			style.Column{Name: "PROGRESS", Width: 24},
			style.Column{Name: "TITLE", Width: 40},
		)

		for _, epic := range epics {
			summary, serr := bd.EpicChangesetSummary(epic.ID)
			progress := "-"
			if serr == nil {
				progress = formatProgress(summary)
			}
			table.AddRow(epic.ID, epic.Status, epic.Assignee, progress, epic.Title)
		}

		fmt.Print(table.Render())
		return nil
	},
}

// formatProgress renders merged/total with blocked and in-flight counts.
func formatProgress(summary map[string]int) string {
	total := 0
	for _, n := range summary {
		total += n
	}
	merged := summary[constants.LabelCSMerged] + summary[constants.LabelCSAbandoned]
	out := fmt.Sprintf("%d/%d done", merged, total)
	if n := summary[constants.LabelCSInProgress]; n > 0 {
		out += fmt.Sprintf(", %d active", n)
	}
	if n := summary[constants.LabelCSBlocked]; n > 0 {
		out += fmt.Sprintf(", %d blocked", n)
	}
	return out
}

func init() {
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "include closed epics")
	rootCmd.AddCommand(statusCmd)
}
