package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/agent"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/tui"
	"github.com/atelier-dev/atelier/internal/worker"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var (
	workerEpic      string
	workerLoop      string
	workerReconcile bool
	workerQueueOnly bool
	workerAgent     string
	workerPrompt    string
)

var workerCmd = &cobra.Command{
	Use:   "worker [-- agent args...]",
	Short: "Run worker cycles: select an epic, run the agent, finalize",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.FindFromCwd()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		switch workerLoop {
		case worker.LoopOnce, worker.LoopDefault, worker.LoopWatch:
		default:
			return fmt.Errorf("invalid --loop %q (once, default, watch)", workerLoop)
		}

		r := worker.New(root, cfg, worker.Options{
			EpicID:    workerEpic,
			QueueOnly: workerQueueOnly,
			Reconcile: workerReconcile,
			AgentType: workerAgent,
			AgentArgs: args,
			Prompt:    workerPrompt,
			Loop:      workerLoop,
		}, tui.NewEpicPicker())

		style.PrintInfo("worker %s starting (loop=%s)", r.AgentID(), workerLoop)
		return r.Loop()
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerEpic, "epic", "", "work on this epic, bypassing selection")
	workerCmd.Flags().StringVar(&workerLoop, "loop", worker.LoopDefault, "loop mode: once, default, watch")
	workerCmd.Flags().BoolVar(&workerReconcile, "reconcile", false, "run a reconcile sweep before selecting")
	workerCmd.Flags().BoolVar(&workerQueueOnly, "queue-only", false, "handle the worker queue and exit")
	workerCmd.Flags().StringVar(&workerAgent, "agent", agent.TypeCodex, "agent type: codex, claude, gemini, copilot, aider")
	workerCmd.Flags().StringVar(&workerPrompt, "prompt", "", "extra prompt text for the agent")
	rootCmd.AddCommand(workerCmd)
}
