package worker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/agent"
	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/events"
	"github.com/atelier-dev/atelier/internal/finalize"
	"github.com/atelier-dev/atelier/internal/mail"
	"github.com/atelier-dev/atelier/internal/reconcile"
	"github.com/atelier-dev/atelier/internal/review"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/startup"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
	"github.com/atelier-dev/atelier/internal/workspace"
)

// RunCycle executes one full worker cycle.
func (r *Runner) RunCycle() (CycleResult, error) {
	cycleStart := time.Now()
	if r.ghc != nil {
		r.ghc.ClearRuntimeCache()
	}

	agentBead, err := r.bd.EnsureAgentBead(r.agentID, session.RoleWorker)
	if err != nil {
		return CycleResult{}, fmt.Errorf("ensuring agent bead: %w", err)
	}

	if err := r.bd.Prime(); err != nil {
		style.PrintWarning("priming ticket store: %v", err)
	}

	if r.opts.Reconcile {
		stepStart := time.Now()
		svc := reconcile.New(r.cfg, r.bd, r.prClient(), r.g, r.router, r.projectRoot)
		res, rerr := svc.Run(reconcile.Options{})
		if rerr != nil {
			style.PrintWarning("reconcile sweep: %v", rerr)
		}
		_ = r.rec.Step(events.LabelReconcile, stepStart, map[string]interface{}{
			"scanned": res.Scanned, "actionable": res.Actionable,
			"reconciled": res.Reconciled, "failed": res.Failed,
		})
	}

	contract := startup.New(r.cfg, r.bd, r.feedbackClient(), r.router, r.g, r.picker)
	stepStart := time.Now()
	sel, err := contract.Select(startup.Params{
		AgentID:        r.agentID,
		AgentBead:      agentBead,
		ExplicitEpicID: r.opts.EpicID,
		QueueOnly:      r.opts.QueueOnly,
	})
	_ = r.rec.Step(events.LabelStartup, stepStart, map[string]interface{}{
		"reason": sel.Reason, "epic": sel.EpicID, "changeset": sel.ChangesetID,
	})
	if err != nil {
		return CycleResult{}, err
	}
	if sel.ShouldExit || sel.EpicID == "" {
		return r.summarize(cycleStart, CycleResult{Reason: sel.Reason}), nil
	}

	if err := r.claimEpic(sel, agentBead); err != nil {
		return CycleResult{}, fmt.Errorf("claiming epic %s: %w", sel.EpicID, err)
	}

	epic, err := r.bd.Show(sel.EpicID)
	if err != nil {
		return CycleResult{}, fmt.Errorf("loading epic %s: %w", sel.EpicID, err)
	}

	root, parent, err := r.resolveBranches(epic)
	if err != nil {
		return CycleResult{}, err
	}

	if bad := r.findLabelViolation(sel.EpicID); bad != "" {
		r.releaseEpic(sel.EpicID, agentBead)
		r.notifyViolation(sel.EpicID, bad)
		return r.summarize(cycleStart, CycleResult{
			Reason: finalize.ReasonLabelViolation, EpicID: sel.EpicID,
		}), nil
	}

	csID := sel.ChangesetID
	if csID == "" {
		next, ok := contract.NextChangeset(epic)
		if !ok {
			return r.summarize(cycleStart, CycleResult{
				Reason: finalize.ReasonChangesetMissing, EpicID: sel.EpicID,
			}), nil
		}
		csID = next
	}

	stepStart = time.Now()
	workBranch, workDir, err := r.prepareWorktrees(epic, root, parent, csID)
	_ = r.rec.Step(events.LabelWorktree, stepStart, map[string]interface{}{
		"changeset": csID, "branch": workBranch, "path": workDir,
	})
	if err != nil {
		return CycleResult{}, err
	}

	mut := ticket.NewMutator(r.bd)
	if err := mut.MarkInProgress(csID); err != nil {
		style.PrintWarning("marking %s in progress: %v", csID, err)
	}

	var before review.FeedbackSnapshot
	if sel.Reason == startup.ReasonReviewFeedback {
		before = r.feedbackSnapshot(workBranch)
	}

	exit, err := r.runAgent(epic, csID, workDir)
	if err != nil {
		return CycleResult{}, err
	}
	if exit != 0 {
		_ = mut.MarkBlocked(csID, fmt.Sprintf("agent command failed with exit code %d", exit))
	}

	if sel.Reason == startup.ReasonReviewFeedback {
		if r.ghc != nil {
			r.ghc.ClearRuntimeCache()
		}
		after := r.feedbackSnapshot(workBranch)
		if !review.Progressed(before, after) {
			r.notifyNoProgress(sel.EpicID, csID, before, after)
			return r.summarize(cycleStart, CycleResult{
				Started: true, Reason: finalize.ReasonFeedbackNotAddressed,
				EpicID: sel.EpicID, ChangesetID: csID,
			}), nil
		}
		if !after.FeedbackAt.IsZero() {
			_ = mut.SetMetaValue(csID, constants.MetaFeedbackSeenAt,
				after.FeedbackAt.UTC().Format(time.RFC3339))
		}
	}

	stepStart = time.Now()
	pipeline := finalize.New(r.cfg, r.bd, r.prClient(), r.g, r.router)
	out := pipeline.Run(finalize.Context{
		ChangesetID: csID,
		EpicID:      sel.EpicID,
		AgentID:     r.agentID,
		AgentBead:   agentBead.ID,
		StartedAt:   cycleStart,
		ProjectRoot: r.projectRoot,
	})
	_ = r.rec.Step(events.LabelFinalize, stepStart, map[string]interface{}{
		"changeset": csID, "reason": out.Reason, "detail": out.Detail,
	})

	return r.summarize(cycleStart, CycleResult{
		Started:         true,
		ContinueRunning: out.ContinueRunning,
		Reason:          out.Reason,
		EpicID:          sel.EpicID,
		ChangesetID:     csID,
	}), nil
}

// runAgent materializes the agent home and runs the agent process in the
// changeset worktree, returning its exit code.
func (r *Runner) runAgent(epic *beads.Issue, csID, workDir string) (int, error) {
	home, err := agent.MaterializeHome(workspace.AgentsDir(r.projectRoot), r.agentID)
	if err != nil {
		return -1, err
	}

	cmd, err := agent.BuildCommand(r.opts.AgentType, r.opts.AgentArgs, r.buildPrompt(epic, csID), agent.Context{
		AgentID:     r.agentID,
		EpicID:      epic.ID,
		ChangesetID: csID,
		BeadsDir:    workspace.BeadsDir(r.projectRoot),
		WorkDir:     workDir,
		ExtraEnv:    []string{"HOME=" + home},
	})
	if err != nil {
		return -1, err
	}

	stepStart := time.Now()
	exit, err := agent.Run(cmd)
	_ = r.rec.Step(events.LabelAgentRun, stepStart, map[string]interface{}{
		"changeset": csID, "exit": exit,
	})
	return exit, err
}

func (r *Runner) buildPrompt(epic *beads.Issue, csID string) string {
	prompt := fmt.Sprintf("Work on changeset %s under epic %s (%s). "+
		"Read the ticket with `bd show %s`, implement it in this worktree, "+
		"commit your work, and update the ticket when done.",
		csID, epic.ID, epic.Title, csID)
	if r.opts.Prompt != "" {
		prompt += "\n\n" + r.opts.Prompt
	}
	return prompt
}

// feedbackSnapshot observes the review-feedback state of a work branch.
func (r *Runner) feedbackSnapshot(branch string) review.FeedbackSnapshot {
	snap := review.FeedbackSnapshot{UnresolvedThreads: -1}
	if branch == "" {
		return snap
	}
	if sha, err := r.g.RemoteBranchSHA(branch); err == nil {
		snap.BranchHead = sha
	}
	if r.ghc == nil || !r.cfg.BranchPR {
		return snap
	}
	pr, err := r.ghc.LookupPRByHead(branch)
	if err != nil || pr == nil {
		return snap
	}
	if t, err := r.ghc.LatestFeedbackTimestampWithInlineComments(pr); err == nil {
		snap.FeedbackAt = t
	}
	if n, err := r.ghc.UnresolvedReviewThreadCount(pr.Number); err == nil {
		snap.UnresolvedThreads = n
	}
	return snap
}

func (r *Runner) summarize(cycleStart time.Time, res CycleResult) CycleResult {
	_ = r.rec.Step(events.LabelCycleSummary, cycleStart, map[string]interface{}{
		"started": res.Started, "continue": res.ContinueRunning,
		"reason": res.Reason, "epic": res.EpicID, "changeset": res.ChangesetID,
	})
	return res
}

func (r *Runner) notifyViolation(epicID, changesetID string) {
	_, err := r.router.NotifyNeedsDecision(mail.NeedsDecision{
		Subject: fmt.Sprintf("invalid labels under %s", epicID),
		Body: fmt.Sprintf("changeset %s carries the %s label, which the worker flow does not support.",
			changesetID, constants.LabelSubtask),
		Action:  "remove the label or replan the ticket as a changeset",
		Threads: []string{changesetID, epicID},
	})
	if err != nil {
		style.PrintWarning("notifying planner: %v", err)
	}
}

func (r *Runner) notifyNoProgress(epicID, changesetID string, before, after review.FeedbackSnapshot) {
	_, err := r.router.NotifyNeedsDecision(mail.NeedsDecision{
		Subject: fmt.Sprintf("review feedback not addressed on %s", changesetID),
		Body:    noProgressBody(changesetID, before, after),
		Action:  "address the review feedback manually or reassign the changeset",
		Threads: []string{changesetID, epicID},
	})
	if err != nil {
		style.PrintWarning("notifying planner: %v", err)
	}
}

// noProgressBody describes a session that ran against reviewer feedback
// without moving any of the observed signals.
func noProgressBody(changesetID string, before, after review.FeedbackSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "an agent session ran against reviewer feedback on %s "+
		"but resolved no threads, produced no reply, and pushed no commits.\n\n", changesetID)
	fmt.Fprintf(&b, "before: %s\n", describeSnapshot(before))
	fmt.Fprintf(&b, "after:  %s", describeSnapshot(after))
	return b.String()
}

func describeSnapshot(s review.FeedbackSnapshot) string {
	feedbackAt := "none"
	if !s.FeedbackAt.IsZero() {
		feedbackAt = s.FeedbackAt.UTC().Format(time.RFC3339)
	}
	threads := "unknown"
	if s.UnresolvedThreads >= 0 {
		threads = strconv.Itoa(s.UnresolvedThreads)
	}
	head := "unpushed"
	if s.BranchHead != "" {
		head = s.BranchHead
	}
	return fmt.Sprintf("feedback_at=%s unresolved_threads=%s head=%s", feedbackAt, threads, head)
}
