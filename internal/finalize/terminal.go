package finalize

import (
	"fmt"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
	"github.com/atelier-dev/atelier/internal/worktree"
)

// runTerminalLabel handles a changeset that already carries cs:merged or
// cs:abandoned when the pipeline starts.
func (p *Pipeline) runTerminalLabel(ctx Context, cs *beads.Issue, workBranch string) Result {
	open := p.openLeafDescendants(cs)
	if len(open) > 0 {
		promoted, err := p.mut.PromotePlannedDescendants(cs.ID)
		if err != nil {
			style.PrintWarning("promoting descendants of %s: %v", cs.ID, err)
		}
		if err := p.mut.MarkChildrenInProgress(cs.ID); err != nil {
			style.PrintWarning("marking children of %s: %v", cs.ID, err)
		}

		threads := append([]string{cs.ID, ctx.EpicID}, promoted...)
		if msgs, merr := p.mail.BlockingMessages(threads, ctx.StartedAt); merr == nil && len(msgs) > 0 {
			return stopWith(ReasonChildrenPlanningBlocked, describeMessages(msgs))
		}
		return continueWith(ReasonChildrenPending, fmt.Sprintf("%d open descendant changesets", len(open)))
	}

	merged := beads.HasLabel(cs, constants.LabelCSMerged)
	sha := ticket.GetMeta(cs.Description, constants.MetaChangesetIntegrated)

	if merged && sha == "" {
		sha = p.liveMergedSHA(workBranch)
		if sha == "" {
			if res, handled := p.prematureMergedRecovery(ctx, cs, workBranch); handled {
				return res
			}
			_ = p.mut.MarkBlocked(cs.ID, "merged label without integration signal")
			p.notify(ctx, fmt.Sprintf("unverified merge on %s", cs.ID),
				fmt.Sprintf("changeset %s carries %s but has no recorded integration sha and no merged PR for branch %s.",
					cs.ID, constants.LabelCSMerged, workBranch),
				"verify the merge happened and record the integration sha, or revert the label",
				cs.ID, ctx.EpicID)
			return stopWith(ReasonBlockedMissingIntegration, cs.ID)
		}
	}

	if merged && sha != "" {
		if stored, err := p.mut.SetIntegratedSHA(cs.ID, sha); err == nil {
			sha = stored
		}
	}

	_ = p.mut.MarkClosed(cs.ID)
	if err := p.mut.CloseCompletedContainerChangesets(ctx.EpicID); err != nil {
		style.PrintWarning("closing container changesets under %s: %v", ctx.EpicID, err)
	}
	return p.epicRollup(ctx)
}

// openLeafDescendants returns the ids of leaf work descendants of an issue
// that are still open: neither closed nor carrying a terminal label.
func (p *Pipeline) openLeafDescendants(root *beads.Issue) []string {
	var open []string

	stack := append([]string(nil), root.Children...)
	seen := make(map[string]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		issue, err := p.store.Show(id)
		if err != nil || issue == nil || !ticket.IsWork(issue) {
			continue
		}
		if len(issue.Children) > 0 {
			stack = append(stack, issue.Children...)
			continue
		}
		if ticket.CanonicalizeStatus(issue.Status) != ticket.StatusClosed && !ticket.HasTerminalState(issue) {
			open = append(open, issue.ID)
		}
	}
	return open
}

// liveMergedSHA returns the integration sha when a live merged PR exists
// for the branch and its recorded head matches the remote tip.
func (p *Pipeline) liveMergedSHA(workBranch string) string {
	if !p.prFlow() || workBranch == "" {
		return ""
	}
	pr, err := p.prs.LookupPRByHead(workBranch)
	if err != nil || !pr.IsMerged() {
		return ""
	}
	sha, err := p.git.RemoteBranchSHA(workBranch)
	if err != nil || sha == "" || pr.HeadRefOid == "" || sha != pr.HeadRefOid {
		return ""
	}
	if pr.MergeCommit != nil && pr.MergeCommit.OID != "" {
		return pr.MergeCommit.OID
	}
	return sha
}

// prematureMergedRecovery resolves a cs:merged label that has no backing
// integration signal by consulting live PR state. Returns handled=false
// when recovery cannot decide and the caller should block.
func (p *Pipeline) prematureMergedRecovery(ctx Context, cs *beads.Issue, workBranch string) (Result, bool) {
	if !p.prFlow() || workBranch == "" {
		return Result{}, false
	}

	pushed := p.git.HasRemoteBranch(workBranch)
	payload, err := p.prs.LookupPRByHead(workBranch)
	if err != nil {
		return Result{}, false
	}

	state := gh.LifecycleState(payload, pushed, gh.HasReviewRequests(payload))
	switch {
	case state.HasOpenPR():
		p.setReviewPending(cs.ID, payload, state)
		return stopWith(ReasonReviewPending, fmt.Sprintf("merge label premature: pr still %s", state)), true
	case state == ticket.LifecycleMerged:
		return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleMerged, p.mergedSHA(workBranch, payload)), true
	case state == ticket.LifecycleClosed:
		if sha, ok := p.integratedOnDefault(workBranch); ok {
			return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleMerged, sha), true
		}
		return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleClosed, ""), true
	case state == ticket.LifecyclePushed:
		return p.handlePushedWithoutPR(ctx, cs, workBranch), true
	default:
		return p.handleLocalOnly(ctx, cs, workBranch), true
	}
}

// finalizeTerminal applies a terminal outcome to a changeset and rolls the
// epic up. state is LifecycleMerged for integration; anything else closes
// the changeset as abandoned.
func (p *Pipeline) finalizeTerminal(ctx Context, id string, state ticket.ReviewLifecycle, sha string) Result {
	if state == ticket.LifecycleMerged {
		if sha != "" {
			if _, err := p.mut.SetIntegratedSHA(id, sha); err != nil {
				style.PrintWarning("recording integration sha on %s: %v", id, err)
			}
		}
		if err := p.mut.MarkMerged(id); err != nil {
			style.PrintWarning("marking %s merged: %v", id, err)
		}
	} else {
		if err := p.mut.MarkAbandoned(id); err != nil {
			style.PrintWarning("marking %s abandoned: %v", id, err)
		}
	}

	if err := p.mut.CloseCompletedContainerChangesets(ctx.EpicID); err != nil {
		style.PrintWarning("closing container changesets under %s: %v", ctx.EpicID, err)
	}
	return p.epicRollup(ctx)
}

// RollupEpic runs the epic rollup on its own, outside a changeset run.
// Used by the reconcile sweep after integration proofs land.
func (p *Pipeline) RollupEpic(ctx Context) Result {
	return p.epicRollup(ctx)
}

// epicRollup closes the epic once every descendant changeset is terminal.
// Without branch PRs the epic root branch is first integrated into its
// parent per the configured history mode.
func (p *Pipeline) epicRollup(ctx Context) Result {
	descendants, err := p.store.ListDescendantChangesets(ctx.EpicID)
	if err != nil {
		return continueWith(ReasonComplete, fmt.Sprintf("epic rollup deferred: %v", err))
	}
	for _, d := range descendants {
		if !ticket.HasTerminalState(d) {
			return continueWith(ReasonComplete, fmt.Sprintf("epic %s still has open changesets", ctx.EpicID))
		}
	}

	epic, err := p.store.Show(ctx.EpicID)
	if err != nil || epic == nil {
		return continueWith(ReasonComplete, fmt.Sprintf("epic %s: %v", ctx.EpicID, err))
	}

	mapping, err := worktree.Load(ctx.ProjectRoot, ctx.EpicID)
	if err != nil {
		style.PrintWarning("loading worktree mapping for %s: %v", ctx.EpicID, err)
		mapping = nil
	}

	keep := make(map[string]bool)
	if !p.cfg.BranchPR {
		root := ticket.GetMeta(epic.Description, constants.MetaWorkspaceRootBranch)
		if root == "" {
			p.notify(ctx, fmt.Sprintf("epic %s missing root branch", ctx.EpicID),
				fmt.Sprintf("epic %s has all changesets terminal but no %s metadata, so the root cannot be integrated.",
					ctx.EpicID, constants.MetaWorkspaceRootBranch),
				"record the workspace root branch on the epic",
				ctx.EpicID)
			return stopWith(ReasonEpicBlockedMetadata, constants.MetaWorkspaceRootBranch)
		}
		parent := ticket.GetMeta(epic.Description, constants.MetaWorkspaceParentBranch)
		if parent == "" {
			parent = p.git.DefaultBranch()
		}

		dir := ""
		if mapping != nil {
			dir = mapping.WorktreePath
		}
		msg := git.DeterministicSquashMessage(ctx.EpicID, epic.Title, ctx.EpicID)
		res := p.git.Integrate(dir, root, parent, p.cfg.History, msg)
		if !res.OK {
			detail := res.Err
			p.notify(ctx, fmt.Sprintf("epic %s integration failed", ctx.EpicID),
				fmt.Sprintf("integrating %s into %s (%s) failed:\n%s", root, parent, p.cfg.History, detail),
				"resolve the integration manually, then rerun the worker",
				ctx.EpicID)
			return stopWith(ReasonEpicBlockedFinalization, detail)
		}
		keep[parent] = true
	}

	if err := p.mut.MarkClosed(ctx.EpicID); err != nil {
		style.PrintWarning("closing epic %s: %v", ctx.EpicID, err)
	}

	if mapping != nil {
		if err := p.git.Cleanup(mapping.Worktrees(), mapping.Branches(), keep); err != nil {
			style.PrintWarning("cleaning up epic %s branches: %v", ctx.EpicID, err)
		} else if err := worktree.Remove(ctx.ProjectRoot, ctx.EpicID); err != nil {
			style.PrintWarning("removing worktree mapping for %s: %v", ctx.EpicID, err)
		}
	}

	return continueWith(ReasonComplete, fmt.Sprintf("epic %s closed", ctx.EpicID))
}
