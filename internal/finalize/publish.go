package finalize

import (
	"fmt"
	"strings"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/lineage"
	"github.com/atelier-dev/atelier/internal/review"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
	"github.com/atelier-dev/atelier/internal/worktree"
)

// handlePushedWithoutPR runs the PR strategy gate for a pushed branch with
// no pull request and creates one when the gate allows.
func (p *Pipeline) handlePushedWithoutPR(ctx Context, cs *beads.Issue, workBranch string) Result {
	lin := lineage.ResolveParentLineage(cs, p.lookup)
	gate := review.Decide(p.cfg.PRStrategy, p.parentLifecycle(lin))

	if !gate.AllowPR {
		p.setReviewPending(cs.ID, nil, ticket.LifecyclePushed)
		return stopWith(ReasonReviewPending, fmt.Sprintf("gate %s", gate.Reason))
	}

	if !p.cfg.BranchPR {
		// No PR flow configured; a pushed branch is as published as it gets.
		return continueWith(ReasonPublished, fmt.Sprintf("branch %s pushed", workBranch))
	}
	if p.prs == nil {
		_ = p.mut.MarkInProgress(cs.ID)
		_ = p.mut.AppendPublishPendingNote(cs.ID, "no repository slug configured; cannot create PR")
		p.notify(ctx, fmt.Sprintf("cannot open pr for %s", cs.ID),
			fmt.Sprintf("branch %s is pushed and the gate allows a PR, but no repo_slug is configured.", workBranch),
			"set repo_slug in atelier/project.toml",
			cs.ID, ctx.EpicID)
		return stopWith(ReasonPRMissingRepoSlug, workBranch)
	}

	base := p.resolvePRBase(ctx.EpicID, lin)
	title := fmt.Sprintf("%s: %s", cs.ID, cs.Title)
	body := prBody(cs, ctx.EpicID, base)
	draft := p.cfg.BranchPRMode == "draft"

	if err := p.prs.CreatePR(base, workBranch, title, body, draft); err != nil {
		// A concurrent worker may have won the race; accept its PR.
		p.prs.InvalidateBranch(workBranch)
		if pr, qerr := p.prs.LookupPRByHead(workBranch); qerr == nil && pr.IsOpen() {
			state := gh.LifecycleState(pr, true, gh.HasReviewRequests(pr))
			p.setReviewPending(cs.ID, pr, state)
			return stopWith(ReasonReviewPending, fmt.Sprintf("pr #%d already open", pr.Number))
		}
		_ = p.mut.MarkInProgress(cs.ID)
		_ = p.mut.AppendPublishPendingNote(cs.ID, fmt.Sprintf("pr create failed: %v", err))
		p.notify(ctx, fmt.Sprintf("pr creation failed for %s", cs.ID),
			fmt.Sprintf("creating a PR for branch %s onto %s failed:\n%v", workBranch, base, err),
			"open the PR manually or fix the failure and rerun the worker",
			cs.ID, ctx.EpicID)
		return stopWith(ReasonPRCreateFailed, err.Error())
	}

	p.prs.InvalidateBranch(workBranch)
	pr, err := p.prs.LookupPRByHead(workBranch)
	if err != nil || pr == nil {
		_ = p.mut.MarkInProgress(cs.ID)
		return stopWith(ReasonPRStatusQueryFailed, fmt.Sprintf("pr created but lookup failed: %v", err))
	}

	state := gh.LifecycleState(pr, true, gh.HasReviewRequests(pr))
	p.setReviewPending(cs.ID, pr, state)
	return stopWith(ReasonReviewPending, fmt.Sprintf("pr #%d opened onto %s", pr.Number, base))
}

// handleLocalOnly publishes a branch that exists only locally, or reports
// why it cannot.
func (p *Pipeline) handleLocalOnly(ctx Context, cs *beads.Issue, workBranch string) Result {
	var pushErr error
	if p.cfg.BranchPR && p.git.BranchExists(workBranch) {
		pushErr = p.git.Push("origin", workBranch, true)
		if pushErr == nil {
			if p.prs != nil {
				p.prs.InvalidateBranch(workBranch)
			}
			var pr *gh.PullRequest
			if p.prFlow() {
				pr, _ = p.prs.LookupPRByHead(workBranch)
			}
			if pr.IsOpen() {
				state := gh.LifecycleState(pr, true, gh.HasReviewRequests(pr))
				p.setReviewPending(cs.ID, pr, state)
				return stopWith(ReasonReviewPending, fmt.Sprintf("pr #%d", pr.Number))
			}
			return p.handlePushedWithoutPR(ctx, cs, workBranch)
		}
	}

	diag := p.publishDiagnostics(ctx, cs.ID, workBranch, pushErr)
	if diag.Recoverable() {
		_ = p.mut.MarkInProgress(cs.ID)
		if err := p.mut.AppendPublishPendingNote(cs.ID, diag.String()); err != nil {
			style.PrintWarning("recording publish note on %s: %v", cs.ID, err)
		}
		p.notify(ctx, fmt.Sprintf("publish pending for %s", cs.ID),
			fmt.Sprintf("branch %s has local work that is not published yet.\n\n%s", workBranch, diag),
			"publish the branch or let the next cycle retry",
			cs.ID, ctx.EpicID)
		return stopWith(ReasonPublishPending, diag.String())
	}

	_ = p.mut.MarkBlocked(cs.ID, "work branch missing locally and remotely")
	p.notify(ctx, fmt.Sprintf("no work to publish for %s", cs.ID),
		fmt.Sprintf("branch %s exists neither locally nor on the remote and the worktree is clean.\n\n%s", workBranch, diag),
		"replan the changeset or restore its branch",
		cs.ID, ctx.EpicID)
	return stopWith(ReasonBlockedPublishMissing, diag.String())
}

// PublishDiagnostics captures why a changeset's work is not published.
type PublishDiagnostics struct {
	Branch       string
	LocalBranch  bool
	RemoteBranch bool
	WorktreePath string
	DirtyEntries []string
	PushError    string
}

// Recoverable reports whether local state exists that a retry could still
// publish.
func (d PublishDiagnostics) Recoverable() bool {
	return d.LocalBranch || len(d.DirtyEntries) > 0
}

func (d PublishDiagnostics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "branch=%s local=%t remote=%t", d.Branch, d.LocalBranch, d.RemoteBranch)
	if d.WorktreePath != "" {
		fmt.Fprintf(&b, " worktree=%s", d.WorktreePath)
	}
	if len(d.DirtyEntries) > 0 {
		fmt.Fprintf(&b, " dirty=%d", len(d.DirtyEntries))
	}
	if d.PushError != "" {
		fmt.Fprintf(&b, " push_error=%q", d.PushError)
	}
	return b.String()
}

func (p *Pipeline) publishDiagnostics(ctx Context, changesetID, workBranch string, pushErr error) PublishDiagnostics {
	diag := PublishDiagnostics{
		Branch:       workBranch,
		LocalBranch:  p.git.BranchExists(workBranch),
		RemoteBranch: p.git.HasRemoteBranch(workBranch),
	}
	if pushErr != nil {
		diag.PushError = pushErr.Error()
	}

	if mapping, err := worktree.Load(ctx.ProjectRoot, ctx.EpicID); err == nil {
		diag.WorktreePath = mapping.ChangesetWorktrees[changesetID]
	}
	if diag.WorktreePath != "" {
		if entries, err := p.git.DirtyEntriesIn(diag.WorktreePath); err == nil {
			diag.DirtyEntries = entries
		}
	}
	return diag
}

// resolvePRBase picks the base branch for a new PR: the explicit parent
// when it is recorded and distinct from the root, else the epic's workspace
// parent, else the default branch.
func (p *Pipeline) resolvePRBase(epicID string, lin lineage.Resolution) string {
	if lin.ExplicitParent && lin.ParentBranch != "" && lin.ParentBranch != lin.RootBranch {
		return lin.ParentBranch
	}
	if epic, err := p.store.Show(epicID); err == nil && epic != nil {
		if parent := ticket.GetMeta(epic.Description, constants.MetaWorkspaceParentBranch); parent != "" {
			return parent
		}
	}
	return p.git.DefaultBranch()
}

// expectedPRBase is the base an existing PR should have: the resolved
// lineage parent when one exists, else the creation-time resolution.
func (p *Pipeline) expectedPRBase(epicID string, lin lineage.Resolution) string {
	if lin.ParentBranch != "" && lin.ParentBranch != lin.RootBranch {
		return lin.ParentBranch
	}
	return p.resolvePRBase(epicID, lin)
}

// alignPRBase retargets a live PR whose base drifted from the expected
// branch. Returns the refreshed payload on success; the original payload
// when no change was needed.
func (p *Pipeline) alignPRBase(ctx Context, cs *beads.Issue, payload *gh.PullRequest) (*gh.PullRequest, string, error) {
	lin := lineage.ResolveParentLineage(cs, p.lookup)
	if lin.Blocked {
		detail := fmt.Sprintf("pr #%d base %s: %s", payload.Number, payload.BaseRefName, lin.BlockedReason)
		return nil, detail, fmt.Errorf("%s", lin.BlockedReason)
	}

	expected := p.expectedPRBase(ctx.EpicID, lin)
	if expected == "" || payload.BaseRefName == expected {
		return payload, "", nil
	}

	if err := p.prs.EditPRBase(payload.Number, expected); err != nil {
		detail := fmt.Sprintf("pr #%d base is %s, expected %s: %v", payload.Number, payload.BaseRefName, expected, err)
		return nil, detail, err
	}

	p.prs.InvalidateBranch(payload.HeadRefName)
	refreshed, err := p.prs.ViewPR(payload.Number)
	if err != nil {
		detail := fmt.Sprintf("pr #%d retargeted to %s but refresh failed: %v", payload.Number, expected, err)
		return nil, detail, err
	}
	return refreshed, "", nil
}

func prBody(cs *beads.Issue, epicID, base string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket: %s\n", cs.ID)
	if epicID != "" {
		fmt.Fprintf(&b, "Epic: %s\n", epicID)
	}
	fmt.Fprintf(&b, "Base: %s\n", base)
	if summary := firstProseLine(cs.Description); summary != "" {
		fmt.Fprintf(&b, "\n%s\n", summary)
	}
	return b.String()
}

// firstProseLine returns the first description line that is not metadata.
func firstProseLine(description string) string {
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if i := strings.Index(trimmed, ":"); i > 0 && !strings.Contains(trimmed[:i], " ") {
			continue
		}
		return trimmed
	}
	return ""
}
