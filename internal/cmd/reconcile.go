package cmd

import (
	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/finalize"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/mail"
	"github.com/atelier-dev/atelier/internal/reconcile"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var reconcileEpic string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sweep changesets back in line with PR and branch state",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.FindFromCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		actor := "atelier/reconcile"
		bd := beads.NewWithActor(root, workspace.BeadsDir(root), actor)
		if err := bd.Prime(); err != nil {
			style.PrintWarning("priming ticket store: %v", err)
		}

		var prs finalize.PRClient
		if cfg.RepoSlug != "" {
			prs = gh.NewClient(cfg.RepoSlug)
		}

		svc := reconcile.New(cfg, bd, prs,
			git.NewGitWithPath(cfg.GitPath, root),
			mail.NewRouter(bd, actor), root)

		res, err := svc.Run(reconcile.Options{EpicID: reconcileEpic})
		if err != nil {
			return err
		}

		style.PrintInfo("scanned %d, actionable %d, reconciled %d, failed %d",
			res.Scanned, res.Actionable, res.Reconciled, res.Failed)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileEpic, "epic", "", "restrict the sweep to one epic")
	rootCmd.AddCommand(reconcileCmd)
}
